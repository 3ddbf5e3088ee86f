package services

import (
	"context"
	"fmt"
	"time"

	"journal-trader/database"
	"journal-trader/models"

	"github.com/sirupsen/logrus"
)

// RepairTrade recomputes a trade's derived fields from its transaction log
// and persists them when they have drifted from the stored row. It is
// idempotent and only ever runs when explicitly invoked; a clean trade is
// left untouched. Returns true when a drift was found and corrected.
func (l *Ledger) RepairTrade(ctx context.Context, tradeID string) (bool, error) {
	lock := l.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	repaired := false
	err := l.storage.Transaction(func(txs *database.LocalStorage) error {
		trade, err := txs.GetTrade(tradeID)
		if err != nil {
			return err
		}
		txns, err := txs.ListTransactions(tradeID)
		if err != nil {
			return err
		}

		state, err := foldTransactions(trade, txns)
		if err != nil {
			return err
		}

		before := snapshotDerived(trade)
		now := time.Now().UTC()
		if trade.ClosedAt != nil {
			now = *trade.ClosedAt
		}
		applyFold(trade, state, now)

		if before == snapshotDerived(trade) {
			return nil
		}

		repaired = true
		l.logger.WithFields(logrus.Fields{
			"trade_id": tradeID,
			"before":   before,
			"after":    snapshotDerived(trade),
		}).Warn("Derived state drift repaired from transaction log")
		return txs.SaveTrade(trade)
	})
	if err != nil {
		return false, mapLedgerError(err)
	}
	return repaired, nil
}

// RepairStrategy is RepairTrade for a strategy: it refolds the strategy's own
// transaction log and persists the derived fields when they have drifted.
// Leg rows are repaired individually through RepairTrade.
func (sl *StrategyLedger) RepairStrategy(ctx context.Context, strategyID string) (bool, error) {
	lock := sl.strategyLock(strategyID)
	lock.Lock()
	defer lock.Unlock()

	repaired := false
	err := sl.storage.Transaction(func(txs *database.LocalStorage) error {
		strategy, err := txs.GetStrategy(strategyID)
		if err != nil {
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

		before := snapshotStrategyDerived(strategy)
		now := time.Now().UTC()
		if strategy.ClosedAt != nil {
			now = *strategy.ClosedAt
		}
		applyStrategyFold(strategy, state, now)

		if before == snapshotStrategyDerived(strategy) {
			return nil
		}

		repaired = true
		sl.logger.WithFields(logrus.Fields{
			"strategy_id": strategyID,
			"before":      before,
			"after":       snapshotStrategyDerived(strategy),
		}).Warn("Derived strategy state drift repaired from transaction log")
		return txs.SaveStrategy(strategy)
	})
	if err != nil {
		return false, mapLedgerError(err)
	}
	return repaired, nil
}

// ReplayStrategy recomputes a strategy's state purely from its log without
// persisting anything.
func (sl *StrategyLedger) ReplayStrategy(strategyID string) (*models.OptionsStrategyTrade, error) {
	strategy, err := sl.storage.GetStrategy(strategyID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	txns, err := sl.storage.ListStrategyTransactions(strategyID)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	replayed := *strategy
	state, err := foldStrategyTransactions(&replayed, txns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	now := time.Now().UTC()
	if strategy.ClosedAt != nil {
		now = *strategy.ClosedAt
	}
	applyStrategyFold(&replayed, state, now)
	return &replayed, nil
}

// snapshotDerived renders the derived fields into a comparable form.
func snapshotDerived(t *models.Trade) string {
	exit := "null"
	if t.AverageExitPrice.Valid {
		exit = t.AverageExitPrice.Decimal.String()
	}
	rr := "null"
	if t.RiskRewardRatio.Valid {
		rr = t.RiskRewardRatio.Decimal.String()
	}
	return t.Size.String() + "|" + t.CurrentSize.String() + "|" +
		t.AveragePrice.String() + "|" + exit + "|" +
		t.ProfitLoss.String() + "|" + string(t.Status) + "|" + string(t.WinLoss) + "|" + rr
}

func snapshotStrategyDerived(s *models.OptionsStrategyTrade) string {
	exit := "null"
	if s.AverageExitCost.Valid {
		exit = s.AverageExitCost.Decimal.String()
	}
	return s.Size.String() + "|" + s.CurrentSize.String() + "|" +
		s.NetCost.String() + "|" + exit + "|" +
		s.ProfitLoss.String() + "|" + string(s.Status) + "|" + string(s.WinLoss)
}
