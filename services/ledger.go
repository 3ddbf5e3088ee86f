package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"journal-trader/database"
	"journal-trader/interfaces"
	"journal-trader/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultQuoteTimeout = 10 * time.Second

// Ledger owns the canonical state of every trade. Each mutation appends a
// transaction and recomputes the trade's derived fields as a fold over its
// full event history, inside a single database transaction. Writes to the
// same trade are serialized through a per-trade mutex; different trades
// proceed in parallel.
type Ledger struct {
	storage *database.LocalStorage
	quotes  interfaces.QuoteService
	journal *DailyJournal
	logger  *logrus.Logger

	// QuoteTimeout bounds spot-price lookups made by ExitExpired.
	QuoteTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger. quotes and journal may be nil; ExitExpired
// requires a quote service and the journal is best-effort only.
func NewLedger(storage *database.LocalStorage, quotes interfaces.QuoteService, journal *DailyJournal, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return &Ledger{
		storage:      storage,
		quotes:       quotes,
		journal:      journal,
		logger:       logger,
		QuoteTimeout: defaultQuoteTimeout,
		locks:        make(map[string]*sync.Mutex),
	}
}

// OptionAttributes carries the contract fields required when opening an
// option trade.
type OptionAttributes struct {
	Strike     decimal.Decimal   `json:"strike" binding:"required"`
	Expiration time.Time         `json:"expiration" binding:"required"`
	OptionType models.OptionType `json:"option_type" binding:"required"`
}

// OpenTradeRequest describes a new position.
type OpenTradeRequest struct {
	Symbol      string            `json:"symbol" binding:"required"`
	TradeType   models.TradeType  `json:"trade_type" binding:"required"`
	EntryPrice  decimal.Decimal   `json:"entry_price"`
	Size        decimal.Decimal   `json:"size"`
	IsDayTrade  bool              `json:"is_day_trade"`
	Option      *OptionAttributes `json:"option,omitempty"`
	InitialRisk *decimal.Decimal  `json:"initial_risk,omitempty"`
	UserID      *string           `json:"user_id,omitempty"`
	GroupName   string            `json:"group_name,omitempty"`
}

// Open creates a trade with its OPEN transaction in one unit of work.
func (l *Ledger) Open(ctx context.Context, req *OpenTradeRequest) (*models.Trade, error) {
	if err := validateOpenRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	trade := &models.Trade{
		TradeID:      uuid.NewString(),
		Symbol:       req.Symbol,
		TradeType:    req.TradeType,
		IsContract:   req.Option != nil,
		IsDayTrade:   req.IsDayTrade,
		Status:       models.StatusOpen,
		Size:         req.Size,
		CurrentSize:  req.Size,
		AveragePrice: req.EntryPrice,
		EntryAt:      now,
		ProfitLoss:   decimal.Zero,
		UserID:       req.UserID,
		GroupName:    req.GroupName,
	}
	if req.Option != nil {
		trade.Strike = decimal.NullDecimal{Decimal: req.Option.Strike, Valid: true}
		expiration := req.Option.Expiration.UTC()
		trade.Expiration = &expiration
		trade.OptionType = req.Option.OptionType
	}
	if req.InitialRisk != nil {
		trade.InitialRisk = decimal.NullDecimal{Decimal: *req.InitialRisk, Valid: true}
	}

	err := l.storage.Transaction(func(txs *database.LocalStorage) error {
		if err := txs.CreateTrade(trade); err != nil {
			return err
		}
		return txs.AppendTransaction(&models.TradeTransaction{
			TradeID: trade.TradeID,
			Type:    models.TxnOpen,
			Size:    req.Size,
			Amount:  req.EntryPrice,
		})
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}

	l.logger.WithFields(logrus.Fields{
		"trade_id":    trade.TradeID,
		"symbol":      trade.Symbol,
		"trade_type":  trade.TradeType,
		"size":        req.Size,
		"entry_price": req.EntryPrice,
		"is_contract": trade.IsContract,
	}).Info("Trade opened")

	if l.journal != nil {
		l.journal.LogOpened(trade)
	}

	return trade, nil
}

// Add appends an ADD transaction and re-derives the size-weighted average
// entry price across the full history.
func (l *Ledger) Add(ctx context.Context, tradeID string, price, size decimal.Decimal) (*models.Trade, error) {
	if !size.IsPositive() {
		return nil, fmt.Errorf("%w: add size must be positive, got %s", ErrValidation, size)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: add price must be positive, got %s", ErrValidation, price)
	}

	trade, err := l.mutate(tradeID, func(trade *models.Trade) (*models.TradeTransaction, error) {
		if trade.Status == models.StatusClosed {
			return nil, fmt.Errorf("%w: cannot add to closed trade %s", ErrInvalidState, tradeID)
		}
		return &models.TradeTransaction{
			TradeID: tradeID,
			Type:    models.TxnAdd,
			Size:    size,
			Amount:  price,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"trade_id":      tradeID,
		"size":          size,
		"price":         price,
		"average_price": trade.AveragePrice,
		"current_size":  trade.CurrentSize,
	}).Info("Added to trade")

	return trade, nil
}

// Trim exits part of the position. The trimmed portion's realized P&L and
// the average exit price are re-derived from the full history. Trimming the
// entire remaining size closes the trade.
func (l *Ledger) Trim(ctx context.Context, tradeID string, price, size decimal.Decimal) (*models.Trade, error) {
	return l.reduce(ctx, tradeID, price, size, "Trade trimmed")
}

// Exit is Trim with closing intent: when the exited size brings the
// position to zero the trade transitions to CLOSED with a terminal CLOSE
// transaction, a win/loss classification and (when an initial risk was
// supplied at open) a risk/reward ratio.
func (l *Ledger) Exit(ctx context.Context, tradeID string, price, size decimal.Decimal) (*models.Trade, error) {
	return l.reduce(ctx, tradeID, price, size, "Trade exited")
}

// ExitExpired force-closes an expired option position at its settlement
// price: the option's intrinsic value at expiration, or zero when no spot
// price is available. Used by the expiration sweeper.
func (l *Ledger) ExitExpired(ctx context.Context, tradeID string) (*models.Trade, error) {
	trade, err := l.GetTrade(tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsContract || trade.Expiration == nil {
		return nil, fmt.Errorf("%w: trade %s is not an option contract", ErrValidation, tradeID)
	}
	if trade.Status == models.StatusClosed {
		return nil, fmt.Errorf("%w: trade %s is already closed", ErrInvalidState, tradeID)
	}
	if trade.Expiration.After(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: trade %s has not expired yet", ErrInvalidState, tradeID)
	}

	price, err := l.settlementPrice(ctx, trade)
	if err != nil {
		return nil, err
	}

	// The settled size is read under the trade's lock so a concurrent add or
	// trim cannot leave a remainder behind the settlement.
	updated, err := l.mutate(tradeID, func(trade *models.Trade) (*models.TradeTransaction, error) {
		if trade.Status == models.StatusClosed {
			return nil, fmt.Errorf("%w: trade %s is already closed", ErrInvalidState, tradeID)
		}
		return &models.TradeTransaction{
			TradeID: tradeID,
			Type:    models.TxnClose,
			Size:    trade.CurrentSize,
			Amount:  price,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"trade_id":    tradeID,
		"price":       price,
		"profit_loss": updated.ProfitLoss,
		"win_loss":    updated.WinLoss,
	}).Info("Expired trade settled")

	if l.journal != nil {
		l.journal.LogClosed(updated)
	}
	return updated, nil
}

// settlementPrice computes the forced-exit price for an expired option.
func (l *Ledger) settlementPrice(ctx context.Context, trade *models.Trade) (decimal.Decimal, error) {
	if l.quotes == nil {
		return decimal.Zero, fmt.Errorf("%w: no quote service configured", ErrValidation)
	}

	quoteCtx, cancel := context.WithTimeout(ctx, l.QuoteTimeout)
	defer cancel()

	quote, err := l.quotes.GetSpotPrice(quoteCtx, trade.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("spot price lookup for %s failed: %w", trade.Symbol, err)
	}

	// No quotable spot: settle worthless rather than guessing a price.
	if quote == nil || !quote.Price.IsPositive() {
		return decimal.Zero, nil
	}

	strike := trade.Strike.Decimal
	var intrinsic decimal.Decimal
	switch trade.OptionType {
	case models.OptionTypePut:
		intrinsic = strike.Sub(quote.Price)
	default:
		intrinsic = quote.Price.Sub(strike)
	}
	if intrinsic.IsNegative() {
		return decimal.Zero, nil
	}
	return intrinsic, nil
}

// reduce is the shared TRIM/CLOSE path. The event type is CLOSE exactly
// when the exit zeroes the position, keeping the zero-or-one terminal CLOSE
// invariant.
func (l *Ledger) reduce(ctx context.Context, tradeID string, price, size decimal.Decimal, logMsg string) (*models.Trade, error) {
	if !size.IsPositive() {
		return nil, fmt.Errorf("%w: exit size must be positive, got %s", ErrValidation, size)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: exit price cannot be negative, got %s", ErrValidation, price)
	}

	trade, err := l.mutate(tradeID, func(trade *models.Trade) (*models.TradeTransaction, error) {
		if trade.Status == models.StatusClosed {
			return nil, fmt.Errorf("%w: trade %s is already closed", ErrInvalidState, tradeID)
		}
		if size.GreaterThan(trade.CurrentSize) {
			return nil, fmt.Errorf("%w: cannot exit %s of trade %s holding %s",
				ErrInvalidState, size, tradeID, trade.CurrentSize)
		}

		txnType := models.TxnTrim
		if size.Equal(trade.CurrentSize) {
			txnType = models.TxnClose
		}
		return &models.TradeTransaction{
			TradeID: tradeID,
			Type:    txnType,
			Size:    size,
			Amount:  price,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"trade_id":     tradeID,
		"size":         size,
		"price":        price,
		"current_size": trade.CurrentSize,
		"profit_loss":  trade.ProfitLoss,
		"status":       trade.Status,
	}).Info(logMsg)

	if trade.Status == models.StatusClosed && l.journal != nil {
		l.journal.LogClosed(trade)
	}

	return trade, nil
}

// mutate serializes a write against one trade: under the trade's lock it
// appends the transaction produced by buildTxn, replays the full history and
// persists the re-derived state, all in one database transaction. buildTxn
// sees the trade's current state and may reject the operation.
func (l *Ledger) mutate(tradeID string, buildTxn func(trade *models.Trade) (*models.TradeTransaction, error)) (*models.Trade, error) {
	lock := l.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	var result *models.Trade
	err := l.storage.Transaction(func(txs *database.LocalStorage) error {
		trade, err := txs.GetTrade(tradeID)
		if err != nil {
			return err
		}
		if trade.StrategyID != nil {
			return fmt.Errorf("%w: trade %s is a leg of strategy %s, mutate it through the strategy",
				ErrInvalidState, tradeID, *trade.StrategyID)
		}

		txn, err := buildTxn(trade)
		if err != nil {
			return err
		}
		if err := appendAndFold(txs, trade, txn); err != nil {
			return err
		}
		result = trade
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return result, nil
}

// appendAndFold appends one lifecycle event, replays the trade's full
// history and persists the re-derived state. Must run inside a storage
// transaction scope.
func appendAndFold(txs *database.LocalStorage, trade *models.Trade, txn *models.TradeTransaction) error {
	if err := txs.AppendTransaction(txn); err != nil {
		return err
	}
	txns, err := txs.ListTransactions(trade.TradeID)
	if err != nil {
		return err
	}
	state, err := foldTransactions(trade, txns)
	if err != nil {
		return err
	}
	applyFold(trade, state, time.Now().UTC())
	return txs.SaveTrade(trade)
}

// GetTrade returns the current snapshot of a trade.
func (l *Ledger) GetTrade(tradeID string) (*models.Trade, error) {
	trade, err := l.storage.GetTrade(tradeID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return trade, nil
}

// ListTrades returns trade snapshots matching the filter.
func (l *Ledger) ListTrades(filter database.TradeFilter) ([]*models.Trade, error) {
	trades, err := l.storage.ListTrades(filter)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return trades, nil
}

// ListTransactions returns a trade's full event history in fold order.
func (l *Ledger) ListTransactions(tradeID string) ([]*models.TradeTransaction, error) {
	if _, err := l.GetTrade(tradeID); err != nil {
		return nil, err
	}
	txns, err := l.storage.ListTransactions(tradeID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return txns, nil
}

// Replay recomputes a trade's state purely from its transaction log without
// persisting anything. Under the ledger invariant the result equals the
// live row; repair tooling uses the difference to detect drift.
func (l *Ledger) Replay(tradeID string) (*models.Trade, error) {
	trade, err := l.GetTrade(tradeID)
	if err != nil {
		return nil, err
	}
	txns, err := l.storage.ListTransactions(tradeID)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	replayed := *trade
	state, err := foldTransactions(&replayed, txns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	now := time.Now().UTC()
	if trade.ClosedAt != nil {
		now = *trade.ClosedAt
	}
	applyFold(&replayed, state, now)
	return &replayed, nil
}

// tradeLock returns the mutex serializing writes to one trade.
func (l *Ledger) tradeLock(tradeID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[tradeID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[tradeID] = lock
	}
	return lock
}

// mapLedgerError translates persistence failures into the ledger's typed
// errors. Sentinel errors raised inside a unit of work pass through.
func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrLedger):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrLedger, err)
	}
}

func validateOpenRequest(req *OpenTradeRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if !req.TradeType.Valid() {
		return fmt.Errorf("%w: trade_type must be BTO or STO, got %q", ErrValidation, req.TradeType)
	}
	if !req.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrValidation, req.Size)
	}
	if !req.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry_price must be positive, got %s", ErrValidation, req.EntryPrice)
	}
	if req.Option != nil {
		if !req.Option.Strike.IsPositive() {
			return fmt.Errorf("%w: option strike must be positive", ErrValidation)
		}
		if req.Option.Expiration.IsZero() {
			return fmt.Errorf("%w: option expiration is required", ErrValidation)
		}
		if !req.Option.OptionType.Valid() {
			return fmt.Errorf("%w: option_type must be CALL or PUT, got %q", ErrValidation, req.Option.OptionType)
		}
	}
	return nil
}
