package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"journal-trader/database"
	"journal-trader/interfaces"
	"journal-trader/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStorage(t *testing.T) *database.LocalStorage {
	t.Helper()
	storage, err := database.NewLocalStorage(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

// stubQuotes is a fixed-price quote service for tests.
type stubQuotes struct {
	mu     sync.Mutex
	price  decimal.Decimal
	err    error
	errFor map[string]error
	calls  int
}

func (s *stubQuotes) GetSpotPrice(ctx context.Context, symbol string) (*interfaces.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errFor[symbol]; ok {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &interfaces.Quote{Symbol: symbol, Price: s.price, Timestamp: time.Now().UTC()}, nil
}

func newTestLedger(t *testing.T, quotes interfaces.QuoteService) *Ledger {
	t.Helper()
	return NewLedger(newTestStorage(t), quotes, nil, testLogger())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: want %s, got %s", msg, want, got)
}

func openStock(t *testing.T, ledger *Ledger, symbol string, size, price decimal.Decimal) *models.Trade {
	t.Helper()
	trade, err := ledger.Open(context.Background(), &OpenTradeRequest{
		Symbol:     symbol,
		TradeType:  models.TradeTypeBTO,
		EntryPrice: price,
		Size:       size,
	})
	require.NoError(t, err)
	return trade
}

func TestOpenAddExitLifecycle(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade := openStock(t, ledger, "AAPL", d("100"), d("150"))
	assert.Equal(t, models.StatusOpen, trade.Status)
	assertDecimal(t, d("100"), trade.CurrentSize, "current size after open")
	assertDecimal(t, d("150"), trade.AveragePrice, "average price after open")

	trade, err := ledger.Add(ctx, trade.TradeID, d("160"), d("50"))
	require.NoError(t, err)
	assertDecimal(t, d("150"), trade.CurrentSize, "current size after add")
	// (100*150 + 50*160) / 150
	wantAvg := d("23000").Div(d("150"))
	assertDecimal(t, wantAvg, trade.AveragePrice, "size-weighted average")

	trade, err = ledger.Exit(ctx, trade.TradeID, d("170"), d("150"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, trade.Status)
	require.NotNil(t, trade.ClosedAt)
	assertDecimal(t, decimal.Zero, trade.CurrentSize, "current size after full exit")
	assertDecimal(t, d("170"), trade.AverageExitPrice.Decimal, "average exit price")
	// 170*150 - 23000
	assertDecimal(t, d("2500"), trade.ProfitLoss, "realized P&L")
	assert.Equal(t, models.WinLossWin, trade.WinLoss)

	txns, err := ledger.ListTransactions(trade.TradeID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, models.TxnOpen, txns[0].Type)
	assert.Equal(t, models.TxnAdd, txns[1].Type)
	assert.Equal(t, models.TxnClose, txns[2].Type)
}

func TestTrimKeepsTradeOpen(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade := openStock(t, ledger, "MSFT", d("10"), d("400"))

	trade, err := ledger.Trim(ctx, trade.TradeID, d("410"), d("4"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, trade.Status)
	assertDecimal(t, d("6"), trade.CurrentSize, "size after trim")
	assertDecimal(t, d("40"), trade.ProfitLoss, "partial realized P&L")
	assert.Empty(t, trade.WinLoss)
	assert.Nil(t, trade.ClosedAt)

	// Trimming the full remainder closes the trade with a CLOSE event.
	trade, err = ledger.Trim(ctx, trade.TradeID, d("390"), d("6"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, trade.Status)

	txns, err := ledger.ListTransactions(trade.TradeID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, models.TxnTrim, txns[1].Type)
	assert.Equal(t, models.TxnClose, txns[2].Type)
}

func TestShortPositionProfitSign(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade, err := ledger.Open(ctx, &OpenTradeRequest{
		Symbol:     "TSLA",
		TradeType:  models.TradeTypeSTO,
		EntryPrice: d("5"),
		Size:       d("1"),
	})
	require.NoError(t, err)

	// Sold at 5, bought back at 2: short profits when price drops.
	trade, err = ledger.Exit(ctx, trade.TradeID, d("2"), d("1"))
	require.NoError(t, err)
	assertDecimal(t, d("3"), trade.ProfitLoss, "short P&L")
	assert.Equal(t, models.WinLossWin, trade.WinLoss)
}

func TestExitMoreThanHeld(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade := openStock(t, ledger, "AAPL", d("10"), d("150"))

	_, err := ledger.Trim(ctx, trade.TradeID, d("160"), d("11"))
	assert.ErrorIs(t, err, ErrInvalidState)

	// Failed trim must not have mutated anything.
	got, err := ledger.GetTrade(trade.TradeID)
	require.NoError(t, err)
	assertDecimal(t, d("10"), got.CurrentSize, "size unchanged after rejected trim")
}

func TestMutateClosedTrade(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade := openStock(t, ledger, "AAPL", d("10"), d("150"))
	_, err := ledger.Exit(ctx, trade.TradeID, d("160"), d("10"))
	require.NoError(t, err)

	_, err = ledger.Add(ctx, trade.TradeID, d("155"), d("5"))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = ledger.Trim(ctx, trade.TradeID, d("155"), d("5"))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUnknownTrade(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	_, err := ledger.GetTrade("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ledger.Add(ctx, "nope", d("1"), d("1"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ledger.ListTransactions("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenValidation(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  OpenTradeRequest
	}{
		{"missing symbol", OpenTradeRequest{TradeType: models.TradeTypeBTO, EntryPrice: d("1"), Size: d("1")}},
		{"bad trade type", OpenTradeRequest{Symbol: "AAPL", TradeType: "LONG", EntryPrice: d("1"), Size: d("1")}},
		{"zero size", OpenTradeRequest{Symbol: "AAPL", TradeType: models.TradeTypeBTO, EntryPrice: d("1")}},
		{"negative price", OpenTradeRequest{Symbol: "AAPL", TradeType: models.TradeTypeBTO, EntryPrice: d("-1"), Size: d("1")}},
		{"option without type", OpenTradeRequest{
			Symbol: "AAPL", TradeType: models.TradeTypeBTO, EntryPrice: d("1"), Size: d("1"),
			Option: &OptionAttributes{Strike: d("150"), Expiration: time.Now()},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Open(ctx, &tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func openExpiredOption(t *testing.T, ledger *Ledger, symbol string, optType models.OptionType, strike decimal.Decimal) *models.Trade {
	t.Helper()
	expired := time.Now().UTC().Add(-24 * time.Hour)
	trade, err := ledger.Open(context.Background(), &OpenTradeRequest{
		Symbol:     symbol,
		TradeType:  models.TradeTypeBTO,
		EntryPrice: d("2.50"),
		Size:       d("1"),
		Option: &OptionAttributes{
			Strike:     strike,
			Expiration: expired,
			OptionType: optType,
		},
	})
	require.NoError(t, err)
	return trade
}

func TestExitExpiredWorthlessCall(t *testing.T) {
	quotes := &stubQuotes{price: d("150")}
	ledger := newTestLedger(t, quotes)

	// Call struck above spot expires worthless.
	trade := openExpiredOption(t, ledger, "AAPL", models.OptionTypeCall, d("200"))

	settled, err := ledger.ExitExpired(context.Background(), trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, settled.Status)
	assertDecimal(t, decimal.Zero, settled.AverageExitPrice.Decimal, "settlement price")
	// (0 - 2.50) * 100
	assertDecimal(t, d("-250"), settled.ProfitLoss, "worthless settlement P&L")
	assert.Equal(t, models.WinLossLoss, settled.WinLoss)
}

func TestExitExpiredIntrinsicValue(t *testing.T) {
	quotes := &stubQuotes{price: d("210")}
	ledger := newTestLedger(t, quotes)

	call := openExpiredOption(t, ledger, "AAPL", models.OptionTypeCall, d("200"))
	settled, err := ledger.ExitExpired(context.Background(), call.TradeID)
	require.NoError(t, err)
	assertDecimal(t, d("10"), settled.AverageExitPrice.Decimal, "call intrinsic")
	// (10 - 2.50) * 100
	assertDecimal(t, d("750"), settled.ProfitLoss, "ITM call P&L")
	assert.Equal(t, models.WinLossWin, settled.WinLoss)

	put := openExpiredOption(t, ledger, "SPY", models.OptionTypePut, d("230"))
	settled, err = ledger.ExitExpired(context.Background(), put.TradeID)
	require.NoError(t, err)
	assertDecimal(t, d("20"), settled.AverageExitPrice.Decimal, "put intrinsic")
}

func TestExitExpiredGuards(t *testing.T) {
	quotes := &stubQuotes{price: d("150")}
	ledger := newTestLedger(t, quotes)
	ctx := context.Background()

	stock := openStock(t, ledger, "AAPL", d("10"), d("150"))
	_, err := ledger.ExitExpired(ctx, stock.TradeID)
	assert.ErrorIs(t, err, ErrValidation)

	future := time.Now().UTC().Add(30 * 24 * time.Hour)
	open, err := ledger.Open(ctx, &OpenTradeRequest{
		Symbol: "AAPL", TradeType: models.TradeTypeBTO, EntryPrice: d("3"), Size: d("1"),
		Option: &OptionAttributes{Strike: d("200"), Expiration: future, OptionType: models.OptionTypeCall},
	})
	require.NoError(t, err)
	_, err = ledger.ExitExpired(ctx, open.TradeID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExitExpiredQuoteFailure(t *testing.T) {
	quotes := &stubQuotes{err: errors.New("api down")}
	ledger := newTestLedger(t, quotes)

	trade := openExpiredOption(t, ledger, "AAPL", models.OptionTypeCall, d("200"))
	_, err := ledger.ExitExpired(context.Background(), trade.TradeID)
	require.Error(t, err)

	// The trade must stay open so the next sweep can retry.
	got, err := ledger.GetTrade(trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
}

func TestExitExpiredSettlesFullCurrentSize(t *testing.T) {
	quotes := &stubQuotes{price: d("150")}
	ledger := newTestLedger(t, quotes)
	ctx := context.Background()

	trade := openExpiredOption(t, ledger, "AAPL", models.OptionTypeCall, d("200"))
	_, err := ledger.Add(ctx, trade.TradeID, d("3.00"), d("1"))
	require.NoError(t, err)

	// Settlement sizes against the position as held at settlement time, so
	// the added contract is included and nothing is left open.
	settled, err := ledger.ExitExpired(ctx, trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, settled.Status)
	assertDecimal(t, decimal.Zero, settled.CurrentSize, "no remainder after settlement")

	txns, err := ledger.ListTransactions(trade.TradeID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, models.TxnClose, txns[2].Type)
	assertDecimal(t, d("2"), txns[2].Size, "settled size includes the add")
}

func TestInitialRiskProducesRiskReward(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	risk := d("5")
	trade, err := ledger.Open(ctx, &OpenTradeRequest{
		Symbol:      "AAPL",
		TradeType:   models.TradeTypeBTO,
		EntryPrice:  d("150"),
		Size:        d("10"),
		InitialRisk: &risk,
	})
	require.NoError(t, err)

	trade, err = ledger.Exit(ctx, trade.TradeID, d("160"), d("10"))
	require.NoError(t, err)
	require.True(t, trade.RiskRewardRatio.Valid)
	// |160 - 150| / 5
	assertDecimal(t, d("2"), trade.RiskRewardRatio.Decimal, "risk/reward ratio")
}

func TestReplayMatchesStoredState(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade := openStock(t, ledger, "AAPL", d("100"), d("150"))
	_, err := ledger.Add(ctx, trade.TradeID, d("160"), d("50"))
	require.NoError(t, err)
	_, err = ledger.Trim(ctx, trade.TradeID, d("170"), d("40"))
	require.NoError(t, err)

	stored, err := ledger.GetTrade(trade.TradeID)
	require.NoError(t, err)
	replayed, err := ledger.Replay(trade.TradeID)
	require.NoError(t, err)

	assertDecimal(t, stored.CurrentSize, replayed.CurrentSize, "replayed current size")
	assertDecimal(t, stored.AveragePrice, replayed.AveragePrice, "replayed average price")
	assertDecimal(t, stored.ProfitLoss, replayed.ProfitLoss, "replayed P&L")
	assert.Equal(t, stored.Status, replayed.Status)
}

func TestConcurrentAddsLoseNoUpdates(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ctx := context.Background()

	trade := openStock(t, ledger, "AAPL", d("100"), d("150"))

	const workers = 10
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Add(ctx, trade.TradeID, d("150"), d("1"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := ledger.GetTrade(trade.TradeID)
	require.NoError(t, err)
	assertDecimal(t, d("110"), got.CurrentSize, "all concurrent adds applied")

	txns, err := ledger.ListTransactions(trade.TradeID)
	require.NoError(t, err)
	assert.Len(t, txns, workers+1)
}

func TestRepairTradeFixesDrift(t *testing.T) {
	storage := newTestStorage(t)
	ledger := NewLedger(storage, nil, nil, testLogger())
	ctx := context.Background()

	trade := openStock(t, ledger, "AAPL", d("100"), d("150"))
	_, err := ledger.Add(ctx, trade.TradeID, d("160"), d("50"))
	require.NoError(t, err)

	// Corrupt the stored derived state behind the ledger's back.
	broken, err := storage.GetTrade(trade.TradeID)
	require.NoError(t, err)
	broken.CurrentSize = d("999")
	broken.AveragePrice = d("1")
	require.NoError(t, storage.SaveTrade(broken))

	repaired, err := ledger.RepairTrade(ctx, trade.TradeID)
	require.NoError(t, err)
	assert.True(t, repaired)

	fixed, err := ledger.GetTrade(trade.TradeID)
	require.NoError(t, err)
	assertDecimal(t, d("150"), fixed.CurrentSize, "repaired current size")
	assertDecimal(t, d("23000").Div(d("150")), fixed.AveragePrice, "repaired average price")

	// Clean trade: repair is a no-op.
	repaired, err = ledger.RepairTrade(ctx, trade.TradeID)
	require.NoError(t, err)
	assert.False(t, repaired)
}
