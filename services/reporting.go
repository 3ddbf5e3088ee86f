package services

import (
	"journal-trader/database"
	"journal-trader/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReportingProjector computes read-only aggregates over the ledger. It is a
// pure function of current trade state, recomputed on every call; at journal
// volumes a materialized view is not worth the invalidation machinery.
type ReportingProjector struct {
	storage *database.LocalStorage
	logger  *logrus.Logger
}

// NewReportingProjector creates a projector over the given storage.
func NewReportingProjector(storage *database.LocalStorage, logger *logrus.Logger) *ReportingProjector {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return &ReportingProjector{
		storage: storage,
		logger:  logger,
	}
}

// PerformanceSummary is the aggregate view consumed by dashboards and the
// reporting bot.
type PerformanceSummary struct {
	TotalTrades            int                          `json:"total_trades"`
	OpenTrades             int                          `json:"open_trades"`
	ClosedTrades           int                          `json:"closed_trades"`
	WinningTrades          int                          `json:"winning_trades"`
	LosingTrades           int                          `json:"losing_trades"`
	TotalProfitLoss        decimal.Decimal              `json:"total_profit_loss"`
	WinRate                float64                      `json:"win_rate"`
	AverageRiskRewardRatio decimal.NullDecimal          `json:"average_risk_reward_ratio"`
	ByGroup                map[string]*GroupPerformance `json:"by_group,omitempty"`
}

// GroupPerformance breaks performance down by routing group
// (e.g. "day_trader", "swing_trader").
type GroupPerformance struct {
	TotalTrades     int             `json:"total_trades"`
	ClosedTrades    int             `json:"closed_trades"`
	WinningTrades   int             `json:"winning_trades"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	WinRate         float64         `json:"win_rate"`
}

// Summary aggregates all trades matching the filter. Reads are snapshot
// only; a trade mutated mid-aggregation lands in this summary or the next,
// never half-applied.
func (rp *ReportingProjector) Summary(filter database.TradeFilter) (*PerformanceSummary, error) {
	trades, err := rp.storage.ListTrades(filter)
	if err != nil {
		return nil, err
	}

	summary := &PerformanceSummary{
		TotalProfitLoss: decimal.Zero,
		ByGroup:         make(map[string]*GroupPerformance),
	}

	var rrSum decimal.Decimal
	rrCount := 0

	for _, trade := range trades {
		summary.TotalTrades++
		summary.TotalProfitLoss = summary.TotalProfitLoss.Add(trade.ProfitLoss)

		group := trade.GroupName
		if group == "" {
			group = "default"
		}
		gp, ok := summary.ByGroup[group]
		if !ok {
			gp = &GroupPerformance{TotalProfitLoss: decimal.Zero}
			summary.ByGroup[group] = gp
		}
		gp.TotalTrades++
		gp.TotalProfitLoss = gp.TotalProfitLoss.Add(trade.ProfitLoss)

		if trade.Status != models.StatusClosed {
			summary.OpenTrades++
			continue
		}

		summary.ClosedTrades++
		gp.ClosedTrades++
		if trade.WinLoss == models.WinLossWin {
			summary.WinningTrades++
			gp.WinningTrades++
		} else {
			summary.LosingTrades++
		}
		if trade.RiskRewardRatio.Valid {
			rrSum = rrSum.Add(trade.RiskRewardRatio.Decimal)
			rrCount++
		}
	}

	if summary.ClosedTrades > 0 {
		summary.WinRate = float64(summary.WinningTrades) / float64(summary.ClosedTrades)
	}
	if rrCount > 0 {
		summary.AverageRiskRewardRatio = decimal.NullDecimal{
			Decimal: rrSum.Div(decimal.NewFromInt(int64(rrCount))),
			Valid:   true,
		}
	}
	for _, gp := range summary.ByGroup {
		if gp.ClosedTrades > 0 {
			gp.WinRate = float64(gp.WinningTrades) / float64(gp.ClosedTrades)
		}
	}

	return summary, nil
}
