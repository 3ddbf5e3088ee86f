package services

import (
	"fmt"
	"time"

	"journal-trader/models"

	"github.com/shopspring/decimal"
)

// foldState is the derived position state produced by replaying a trade's
// transaction log from scratch.
type foldState struct {
	Size             decimal.Decimal // original opened quantity
	CurrentSize      decimal.Decimal
	AveragePrice     decimal.Decimal
	AverageExitPrice decimal.NullDecimal
	ProfitLoss       decimal.Decimal
	Closed           bool
}

// foldTransactions replays txns (already ordered by created_at, id) and
// re-derives every computed field from the full history. Averages are never
// updated incrementally so the fold stays correct under out-of-order
// backfills, and all arithmetic is decimal to avoid cumulative float error
// across many partial fills.
func foldTransactions(trade *models.Trade, txns []*models.TradeTransaction) (foldState, error) {
	var state foldState

	var entryQty, entryCost decimal.Decimal // OPEN + ADD
	var exitQty, exitCost decimal.Decimal   // TRIM + CLOSE
	sawOpen := false

	for _, txn := range txns {
		switch txn.Type {
		case models.TxnOpen:
			if sawOpen {
				return state, fmt.Errorf("trade %s has more than one OPEN transaction", trade.TradeID)
			}
			sawOpen = true
			state.Size = txn.Size
			entryQty = entryQty.Add(txn.Size)
			entryCost = entryCost.Add(txn.Amount.Mul(txn.Size))
		case models.TxnAdd:
			entryQty = entryQty.Add(txn.Size)
			entryCost = entryCost.Add(txn.Amount.Mul(txn.Size))
		case models.TxnTrim, models.TxnClose:
			exitQty = exitQty.Add(txn.Size)
			exitCost = exitCost.Add(txn.Amount.Mul(txn.Size))
		default:
			return state, fmt.Errorf("trade %s has unknown transaction type %q", trade.TradeID, txn.Type)
		}
	}

	if !sawOpen {
		return state, fmt.Errorf("trade %s has no OPEN transaction", trade.TradeID)
	}

	state.AveragePrice = entryCost.Div(entryQty)
	state.CurrentSize = entryQty.Sub(exitQty)

	if exitQty.IsPositive() {
		state.AverageExitPrice = decimal.NullDecimal{
			Decimal: exitCost.Div(exitQty),
			Valid:   true,
		}

		// Realized P&L for the exited portion: (exit proceeds - cost basis
		// of the exited quantity), signed by direction and scaled by the
		// contract multiplier. The cost basis is taken from the unrounded
		// entry totals rather than the rounded average price.
		costBasis := entryCost.Mul(exitQty).Div(entryQty)
		state.ProfitLoss = exitCost.Sub(costBasis).
			Mul(trade.TradeType.Direction()).
			Mul(trade.Multiplier())

		state.Closed = state.CurrentSize.IsZero()
	}

	return state, nil
}

// foldStrategyTransactions replays a strategy's event log. Amounts are net
// per-unit debits (positive) or credits (negative), so P&L needs no
// direction sign; strategies are always option structures and carry the
// contract multiplier.
func foldStrategyTransactions(strategy *models.OptionsStrategyTrade, txns []*models.OptionsStrategyTransaction) (foldState, error) {
	var state foldState

	var entryQty, entryCost decimal.Decimal
	var exitQty, exitCost decimal.Decimal
	sawOpen := false

	for _, txn := range txns {
		switch txn.Type {
		case models.TxnOpen:
			if sawOpen {
				return state, fmt.Errorf("strategy %s has more than one OPEN transaction", strategy.StrategyID)
			}
			sawOpen = true
			state.Size = txn.Size
			entryQty = entryQty.Add(txn.Size)
			entryCost = entryCost.Add(txn.Amount.Mul(txn.Size))
		case models.TxnAdd:
			entryQty = entryQty.Add(txn.Size)
			entryCost = entryCost.Add(txn.Amount.Mul(txn.Size))
		case models.TxnTrim, models.TxnClose:
			exitQty = exitQty.Add(txn.Size)
			exitCost = exitCost.Add(txn.Amount.Mul(txn.Size))
		default:
			return state, fmt.Errorf("strategy %s has unknown transaction type %q", strategy.StrategyID, txn.Type)
		}
	}

	if !sawOpen {
		return state, fmt.Errorf("strategy %s has no OPEN transaction", strategy.StrategyID)
	}

	state.AveragePrice = entryCost.Div(entryQty) // net cost per unit
	state.CurrentSize = entryQty.Sub(exitQty)

	if exitQty.IsPositive() {
		state.AverageExitPrice = decimal.NullDecimal{
			Decimal: exitCost.Div(exitQty),
			Valid:   true,
		}
		costBasis := entryCost.Mul(exitQty).Div(entryQty)
		state.ProfitLoss = exitCost.Sub(costBasis).Mul(models.ContractMultiplier)
		state.Closed = state.CurrentSize.IsZero()
	}

	return state, nil
}

// applyStrategyFold writes the derived state onto the strategy.
func applyStrategyFold(strategy *models.OptionsStrategyTrade, state foldState, now time.Time) {
	strategy.Size = state.Size
	strategy.CurrentSize = state.CurrentSize
	strategy.NetCost = state.AveragePrice
	strategy.AverageExitCost = state.AverageExitPrice
	strategy.ProfitLoss = state.ProfitLoss

	if !state.Closed {
		strategy.Status = models.StatusOpen
		strategy.ClosedAt = nil
		strategy.WinLoss = ""
		return
	}

	strategy.Status = models.StatusClosed
	if strategy.ClosedAt == nil {
		strategy.ClosedAt = &now
	}
	if state.ProfitLoss.IsPositive() {
		strategy.WinLoss = models.WinLossWin
	} else {
		strategy.WinLoss = models.WinLossLoss
	}
}

// applyFold writes the derived state onto the trade, handling the
// OPEN -> CLOSED transition (closed timestamp, win/loss classification and
// risk/reward ratio) when the fold reports the position fully exited.
func applyFold(trade *models.Trade, state foldState, now time.Time) {
	trade.Size = state.Size
	trade.CurrentSize = state.CurrentSize
	trade.AveragePrice = state.AveragePrice
	trade.AverageExitPrice = state.AverageExitPrice
	trade.ProfitLoss = state.ProfitLoss

	if !state.Closed {
		trade.Status = models.StatusOpen
		trade.ClosedAt = nil
		trade.WinLoss = ""
		trade.RiskRewardRatio = decimal.NullDecimal{}
		return
	}

	trade.Status = models.StatusClosed
	if trade.ClosedAt == nil {
		trade.ClosedAt = &now
	}

	if state.ProfitLoss.IsPositive() {
		trade.WinLoss = models.WinLossWin
	} else {
		trade.WinLoss = models.WinLossLoss
	}

	// Risk/reward is only defined when the caller supplied an initial risk
	// (stop-loss distance) at open; the ledger never guesses a default.
	if trade.InitialRisk.Valid && !trade.InitialRisk.Decimal.IsZero() && state.AverageExitPrice.Valid {
		reward := state.AverageExitPrice.Decimal.Sub(state.AveragePrice).Abs()
		trade.RiskRewardRatio = decimal.NullDecimal{
			Decimal: reward.Div(trade.InitialRisk.Decimal.Abs()),
			Valid:   true,
		}
	} else {
		trade.RiskRewardRatio = decimal.NullDecimal{}
	}
}
