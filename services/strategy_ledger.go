package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"journal-trader/database"
	"journal-trader/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// StrategyLedger manages multi-leg option strategies. A strategy owns its
// constituent leg Trades (linked through Trade.StrategyID) and keeps a
// transaction log of net per-unit amounts; NetCost and strategy P&L are
// folded from that log exactly like a single trade's AveragePrice. Legs
// belonging to a strategy are mutated through the strategy, never directly.
type StrategyLedger struct {
	storage *database.LocalStorage
	journal *DailyJournal
	logger  *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStrategyLedger creates a strategy ledger over the given storage. journal
// may be nil; it is best-effort only.
func NewStrategyLedger(storage *database.LocalStorage, journal *DailyJournal, logger *logrus.Logger) *StrategyLedger {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return &StrategyLedger{
		storage: storage,
		journal: journal,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// StrategyLegRequest describes one leg of a new strategy. Legs are always
// option contracts.
type StrategyLegRequest struct {
	TradeType  models.TradeType `json:"trade_type" binding:"required"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	Option     OptionAttributes `json:"option" binding:"required"`
}

// OpenStrategyRequest describes a new multi-leg strategy. The net per-unit
// cost is derived from the legs: bought legs contribute a debit, sold legs
// a credit.
type OpenStrategyRequest struct {
	Name       string               `json:"name" binding:"required"`
	Underlying string               `json:"underlying" binding:"required"`
	Size       decimal.Decimal      `json:"size"`
	Legs       []StrategyLegRequest `json:"legs" binding:"required"`
	UserID     *string              `json:"user_id,omitempty"`
	GroupName  string               `json:"group_name,omitempty"`
}

// AdjustStrategyRequest carries per-leg prices for an add, trim or close.
// LegPrices maps each leg's trade_id to its per-unit price at event time.
type AdjustStrategyRequest struct {
	Size      decimal.Decimal            `json:"size"`
	LegPrices map[string]decimal.Decimal `json:"leg_prices" binding:"required"`
}

// StrategyView bundles a strategy with its legs for snapshot queries.
type StrategyView struct {
	Strategy *models.OptionsStrategyTrade `json:"strategy"`
	Legs     []*models.Trade              `json:"legs"`
}

// OpenStrategy creates the strategy, its OPEN transaction and every leg
// trade with its own OPEN transaction, in one unit of work.
func (sl *StrategyLedger) OpenStrategy(ctx context.Context, req *OpenStrategyRequest) (*StrategyView, error) {
	if err := validateOpenStrategyRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	strategyID := uuid.NewString()

	netCost := decimal.Zero
	for _, leg := range req.Legs {
		netCost = netCost.Add(leg.EntryPrice.Mul(leg.TradeType.Direction()))
	}

	strategy := &models.OptionsStrategyTrade{
		StrategyID:  strategyID,
		Name:        req.Name,
		Underlying:  req.Underlying,
		Status:      models.StatusOpen,
		Size:        req.Size,
		CurrentSize: req.Size,
		NetCost:     netCost,
		EntryAt:     now,
		ProfitLoss:  decimal.Zero,
		UserID:      req.UserID,
		GroupName:   req.GroupName,
	}

	var legs []*models.Trade
	err := sl.storage.Transaction(func(txs *database.LocalStorage) error {
		if err := txs.CreateStrategy(strategy); err != nil {
			return err
		}
		if err := txs.AppendStrategyTransaction(&models.OptionsStrategyTransaction{
			StrategyID: strategyID,
			Type:       models.TxnOpen,
			Size:       req.Size,
			Amount:     netCost,
		}); err != nil {
			return err
		}

		for _, legReq := range req.Legs {
			expiration := legReq.Option.Expiration.UTC()
			leg := &models.Trade{
				TradeID:      uuid.NewString(),
				Symbol:       req.Underlying,
				TradeType:    legReq.TradeType,
				IsContract:   true,
				Status:       models.StatusOpen,
				Size:         req.Size,
				CurrentSize:  req.Size,
				AveragePrice: legReq.EntryPrice,
				Strike:       decimal.NullDecimal{Decimal: legReq.Option.Strike, Valid: true},
				Expiration:   &expiration,
				OptionType:   legReq.Option.OptionType,
				EntryAt:      now,
				ProfitLoss:   decimal.Zero,
				UserID:       req.UserID,
				GroupName:    req.GroupName,
				StrategyID:   &strategyID,
			}
			if err := txs.CreateTrade(leg); err != nil {
				return err
			}
			if err := txs.AppendTransaction(&models.TradeTransaction{
				TradeID: leg.TradeID,
				Type:    models.TxnOpen,
				Size:    req.Size,
				Amount:  legReq.EntryPrice,
			}); err != nil {
				return err
			}
			legs = append(legs, leg)
		}
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}

	sl.logger.WithFields(logrus.Fields{
		"strategy_id": strategyID,
		"name":        req.Name,
		"underlying":  req.Underlying,
		"legs":        len(legs),
		"net_cost":    netCost,
		"size":        req.Size,
	}).Info("Strategy opened")

	if sl.journal != nil {
		for _, leg := range legs {
			sl.journal.LogOpened(leg)
		}
	}

	return &StrategyView{Strategy: strategy, Legs: legs}, nil
}

// AddToStrategy increases the strategy position, appending ADD events to
// the strategy and every open leg at the supplied per-leg prices.
func (sl *StrategyLedger) AddToStrategy(ctx context.Context, strategyID string, req *AdjustStrategyRequest) (*StrategyView, error) {
	if !req.Size.IsPositive() {
		return nil, fmt.Errorf("%w: add size must be positive, got %s", ErrValidation, req.Size)
	}
	return sl.adjust(strategyID, req, models.TxnAdd, "Added to strategy")
}

// TrimStrategy exits part of the strategy position at the supplied per-leg
// prices. Trimming the full remaining size closes the strategy.
func (sl *StrategyLedger) TrimStrategy(ctx context.Context, strategyID string, req *AdjustStrategyRequest) (*StrategyView, error) {
	if !req.Size.IsPositive() {
		return nil, fmt.Errorf("%w: trim size must be positive, got %s", ErrValidation, req.Size)
	}
	return sl.adjust(strategyID, req, models.TxnTrim, "Strategy trimmed")
}

// CloseStrategy exits the full remaining strategy position and closes every
// open leg.
func (sl *StrategyLedger) CloseStrategy(ctx context.Context, strategyID string, req *AdjustStrategyRequest) (*StrategyView, error) {
	closeReq := &AdjustStrategyRequest{LegPrices: req.LegPrices}
	return sl.adjust(strategyID, closeReq, models.TxnClose, "Strategy closed")
}

// adjust is the shared ADD/TRIM/CLOSE path: one database transaction
// appends the strategy event plus a matching event per open leg, then
// re-derives both the strategy and every touched leg from their full logs.
func (sl *StrategyLedger) adjust(strategyID string, req *AdjustStrategyRequest, kind models.TransactionType, logMsg string) (*StrategyView, error) {
	lock := sl.strategyLock(strategyID)
	lock.Lock()
	defer lock.Unlock()

	var view *StrategyView
	var closedLegs []*models.Trade
	err := sl.storage.Transaction(func(txs *database.LocalStorage) error {
		strategy, err := txs.GetStrategy(strategyID)
		if err != nil {
			return err
		}
		if strategy.Status == models.StatusClosed {
			return fmt.Errorf("%w: strategy %s is already closed", ErrInvalidState, strategyID)
		}

		size := req.Size
		if kind == models.TxnClose {
			size = strategy.CurrentSize
		}
		if kind != models.TxnAdd && size.GreaterThan(strategy.CurrentSize) {
			return fmt.Errorf("%w: cannot exit %s of strategy %s holding %s",
				ErrInvalidState, size, strategyID, strategy.CurrentSize)
		}

		legs, err := txs.ListTrades(database.TradeFilter{StrategyID: strategyID})
		if err != nil {
			return err
		}

		netAmount := decimal.Zero
		for _, leg := range legs {
			if leg.Status == models.StatusClosed {
				continue
			}
			price, ok := req.LegPrices[leg.TradeID]
			if !ok {
				return fmt.Errorf("%w: missing price for leg %s", ErrValidation, leg.TradeID)
			}
			netAmount = netAmount.Add(price.Mul(leg.TradeType.Direction()))
		}

		// A trim of the full remaining size is a close.
		if kind == models.TxnTrim && size.Equal(strategy.CurrentSize) {
			kind = models.TxnClose
		}
		closingAll := kind == models.TxnClose

		for _, leg := range legs {
			if leg.Status == models.StatusClosed {
				continue
			}
			legSize := size
			if closingAll {
				legSize = leg.CurrentSize
			}
			legKind := kind
			switch {
			case kind == models.TxnAdd:
			case closingAll || legSize.Equal(leg.CurrentSize):
				legKind = models.TxnClose
			default:
				legKind = models.TxnTrim
			}
			if legKind != models.TxnAdd && legSize.GreaterThan(leg.CurrentSize) {
				return fmt.Errorf("%w: cannot exit %s of leg %s holding %s",
					ErrInvalidState, legSize, leg.TradeID, leg.CurrentSize)
			}
			if err := appendAndFold(txs, leg, &models.TradeTransaction{
				TradeID: leg.TradeID,
				Type:    legKind,
				Size:    legSize,
				Amount:  req.LegPrices[leg.TradeID],
			}); err != nil {
				return err
			}
			if leg.Status == models.StatusClosed {
				closedLegs = append(closedLegs, leg)
			}
		}

		if err := txs.AppendStrategyTransaction(&models.OptionsStrategyTransaction{
			StrategyID: strategyID,
			Type:       kind,
			Size:       size,
			Amount:     netAmount,
		}); err != nil {
			return err
		}

		txns, err := txs.ListStrategyTransactions(strategyID)
		if err != nil {
			return err
		}
		state, err := foldStrategyTransactions(strategy, txns)
		if err != nil {
			return err
		}
		applyStrategyFold(strategy, state, time.Now().UTC())
		if err := txs.SaveStrategy(strategy); err != nil {
			return err
		}

		view = &StrategyView{Strategy: strategy, Legs: legs}
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}

	sl.logger.WithFields(logrus.Fields{
		"strategy_id":  strategyID,
		"event":        kind,
		"current_size": view.Strategy.CurrentSize,
		"profit_loss":  view.Strategy.ProfitLoss,
		"status":       view.Strategy.Status,
	}).Info(logMsg)

	if sl.journal != nil {
		for _, leg := range closedLegs {
			sl.journal.LogClosed(leg)
		}
	}

	return view, nil
}

// GetStrategy returns a strategy snapshot with its legs.
func (sl *StrategyLedger) GetStrategy(strategyID string) (*StrategyView, error) {
	strategy, err := sl.storage.GetStrategy(strategyID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	legs, err := sl.storage.ListTrades(database.TradeFilter{StrategyID: strategyID})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return &StrategyView{Strategy: strategy, Legs: legs}, nil
}

func (sl *StrategyLedger) strategyLock(strategyID string) *sync.Mutex {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	lock, ok := sl.locks[strategyID]
	if !ok {
		lock = &sync.Mutex{}
		sl.locks[strategyID] = lock
	}
	return lock
}

func validateOpenStrategyRequest(req *OpenStrategyRequest) error {
	if req.Name == "" || req.Underlying == "" {
		return fmt.Errorf("%w: strategy name and underlying are required", ErrValidation)
	}
	if !req.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrValidation, req.Size)
	}
	if len(req.Legs) < 2 {
		return fmt.Errorf("%w: a strategy needs at least two legs, got %d", ErrValidation, len(req.Legs))
	}
	for i, leg := range req.Legs {
		if !leg.TradeType.Valid() {
			return fmt.Errorf("%w: leg %d trade_type must be BTO or STO", ErrValidation, i)
		}
		if !leg.EntryPrice.IsPositive() {
			return fmt.Errorf("%w: leg %d entry_price must be positive", ErrValidation, i)
		}
		if !leg.Option.Strike.IsPositive() {
			return fmt.Errorf("%w: leg %d strike must be positive", ErrValidation, i)
		}
		if leg.Option.Expiration.IsZero() {
			return fmt.Errorf("%w: leg %d expiration is required", ErrValidation, i)
		}
		if !leg.Option.OptionType.Valid() {
			return fmt.Errorf("%w: leg %d option_type must be CALL or PUT", ErrValidation, i)
		}
	}
	return nil
}
