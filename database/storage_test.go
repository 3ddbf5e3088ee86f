package database

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"journal-trader/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newStorage(t *testing.T) *LocalStorage {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	storage, err := NewLocalStorage(filepath.Join(t.TempDir(), "nested", "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func makeTrade(tradeID, symbol string) *models.Trade {
	return &models.Trade{
		TradeID:      tradeID,
		Symbol:       symbol,
		TradeType:    models.TradeTypeBTO,
		Status:       models.StatusOpen,
		Size:         decimal.NewFromInt(10),
		CurrentSize:  decimal.NewFromInt(10),
		AveragePrice: decimal.NewFromInt(150),
		EntryAt:      time.Now().UTC(),
	}
}

func TestTradeRoundTrip(t *testing.T) {
	storage := newStorage(t)

	trade := makeTrade("t-1", "AAPL")
	require.NoError(t, storage.CreateTrade(trade))

	got, err := storage.GetTrade("t-1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.True(t, got.Size.Equal(decimal.NewFromInt(10)))

	got.Status = models.StatusClosed
	require.NoError(t, storage.SaveTrade(got))

	got, err = storage.GetTrade("t-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)
}

func TestGetTradeNotFound(t *testing.T) {
	storage := newStorage(t)

	_, err := storage.GetTrade("missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestTransactionRollsBack(t *testing.T) {
	storage := newStorage(t)

	boom := errors.New("boom")
	err := storage.Transaction(func(txs *LocalStorage) error {
		if err := txs.CreateTrade(makeTrade("t-1", "AAPL")); err != nil {
			return err
		}
		if err := txs.AppendTransaction(&models.TradeTransaction{
			TradeID: "t-1",
			Type:    models.TxnOpen,
			Size:    decimal.NewFromInt(10),
			Amount:  decimal.NewFromInt(150),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = storage.GetTrade("t-1")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound), "trade must not survive rollback")

	txns, err := storage.ListTransactions("t-1")
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestListTransactionsInsertionOrder(t *testing.T) {
	storage := newStorage(t)

	// Identical timestamps: the auto-increment id must break the tie.
	stamp := time.Now().UTC().Truncate(time.Second)
	kinds := []models.TransactionType{models.TxnOpen, models.TxnAdd, models.TxnTrim, models.TxnClose}
	for _, kind := range kinds {
		txn := &models.TradeTransaction{
			TradeID: "t-1",
			Type:    kind,
			Size:    decimal.NewFromInt(1),
			Amount:  decimal.NewFromInt(100),
		}
		txn.CreatedAt = stamp
		require.NoError(t, storage.AppendTransaction(txn))
	}

	txns, err := storage.ListTransactions("t-1")
	require.NoError(t, err)
	require.Len(t, txns, len(kinds))
	for i, kind := range kinds {
		assert.Equal(t, kind, txns[i].Type)
	}
}

func TestListTradesFilters(t *testing.T) {
	storage := newStorage(t)

	open := makeTrade("t-1", "AAPL")
	require.NoError(t, storage.CreateTrade(open))

	closed := makeTrade("t-2", "MSFT")
	closed.Status = models.StatusClosed
	closed.GroupName = "swing_trader"
	require.NoError(t, storage.CreateTrade(closed))

	all, err := storage.ListTrades(TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	openOnly, err := storage.ListTrades(TradeFilter{Status: models.StatusOpen})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, "t-1", openOnly[0].TradeID)

	grouped, err := storage.ListTrades(TradeFilter{GroupName: "swing_trader"})
	require.NoError(t, err)
	require.Len(t, grouped, 1)
	assert.Equal(t, "t-2", grouped[0].TradeID)

	bySymbol, err := storage.ListTrades(TradeFilter{Symbol: "AAPL", Status: models.StatusOpen})
	require.NoError(t, err)
	assert.Len(t, bySymbol, 1)
}

func TestListExpiredOpenOptions(t *testing.T) {
	storage := newStorage(t)
	now := time.Now().UTC()

	addOption := func(id string, status models.TradeStatus, expiration time.Time) {
		trade := makeTrade(id, "AAPL")
		trade.IsContract = true
		trade.Status = status
		trade.Expiration = &expiration
		trade.Strike = decimal.NullDecimal{Decimal: decimal.NewFromInt(150), Valid: true}
		trade.OptionType = models.OptionTypeCall
		require.NoError(t, storage.CreateTrade(trade))
	}

	addOption("expired-open", models.StatusOpen, now.Add(-time.Hour))
	addOption("expired-closed", models.StatusClosed, now.Add(-time.Hour))
	addOption("future-open", models.StatusOpen, now.Add(24*time.Hour))
	require.NoError(t, storage.CreateTrade(makeTrade("stock", "AAPL")))

	expired, err := storage.ListExpiredOpenOptions(now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "expired-open", expired[0].TradeID)
}

func TestStrategyRoundTrip(t *testing.T) {
	storage := newStorage(t)

	strategy := &models.OptionsStrategyTrade{
		StrategyID:  "s-1",
		Name:        "iron condor",
		Underlying:  "SPY",
		Status:      models.StatusOpen,
		Size:        decimal.NewFromInt(1),
		CurrentSize: decimal.NewFromInt(1),
		NetCost:     decimal.NewFromInt(2),
		EntryAt:     time.Now().UTC(),
	}
	require.NoError(t, storage.CreateStrategy(strategy))

	for i := 0; i < 3; i++ {
		require.NoError(t, storage.AppendStrategyTransaction(&models.OptionsStrategyTransaction{
			StrategyID: "s-1",
			Type:       models.TxnAdd,
			Size:       decimal.NewFromInt(1),
			Amount:     decimal.NewFromInt(int64(i)),
		}))
	}

	got, err := storage.GetStrategy("s-1")
	require.NoError(t, err)
	assert.Equal(t, "iron condor", got.Name)

	txns, err := storage.ListStrategyTransactions("s-1")
	require.NoError(t, err)
	require.Len(t, txns, 3)
	for i, txn := range txns {
		assert.True(t, txn.Amount.Equal(decimal.NewFromInt(int64(i))), "insertion order preserved")
	}

	_, err = storage.GetStrategy("missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestTradesScopedByStrategy(t *testing.T) {
	storage := newStorage(t)

	strategyID := "s-1"
	for i := 0; i < 2; i++ {
		leg := makeTrade(fmt.Sprintf("leg-%d", i), "SPY")
		leg.StrategyID = &strategyID
		require.NoError(t, storage.CreateTrade(leg))
	}
	require.NoError(t, storage.CreateTrade(makeTrade("standalone", "SPY")))

	legs, err := storage.ListTrades(TradeFilter{StrategyID: strategyID})
	require.NoError(t, err)
	assert.Len(t, legs, 2)
}
