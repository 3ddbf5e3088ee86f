package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeType indicates how a position was opened.
type TradeType string

const (
	TradeTypeBTO TradeType = "BTO" // buy to open
	TradeTypeSTO TradeType = "STO" // sell to open
)

// Valid reports whether t is a known trade type.
func (t TradeType) Valid() bool {
	return t == TradeTypeBTO || t == TradeTypeSTO
}

// Direction returns +1 for long positions and -1 for short positions,
// used to sign realized P&L.
func (t TradeType) Direction() decimal.Decimal {
	if t == TradeTypeSTO {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OptionType distinguishes calls from puts on contract trades.
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// Valid reports whether o is a known option type.
func (o OptionType) Valid() bool {
	return o == OptionTypeCall || o == OptionTypePut
}

// TradeStatus is the lifecycle status of a trade or strategy.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// WinLoss classifies a closed trade by its realized P&L.
type WinLoss string

const (
	WinLossWin  WinLoss = "WIN"
	WinLossLoss WinLoss = "LOSS"
)

// TransactionType is the kind of lifecycle event recorded against a trade.
type TransactionType string

const (
	TxnOpen  TransactionType = "OPEN"
	TxnAdd   TransactionType = "ADD"
	TxnTrim  TransactionType = "TRIM"
	TxnClose TransactionType = "CLOSE"
)

// ContractMultiplier is the per-unit multiplier applied to option P&L.
var ContractMultiplier = decimal.NewFromInt(100)

// Trade represents a single-instrument position in the database.
// Derived fields (AveragePrice, CurrentSize, AverageExitPrice, ProfitLoss,
// WinLoss, RiskRewardRatio) are always recomputed from the trade's full
// transaction history, never updated incrementally.
//
// Decimal columns use TEXT affinity: sqlite's NUMERIC affinity coerces long
// decimal strings to floats, and replaying the log must reproduce the stored
// row exactly.
type Trade struct {
	gorm.Model
	TradeID    string    `gorm:"uniqueIndex" json:"trade_id"`
	Symbol     string    `gorm:"index" json:"symbol"`
	TradeType  TradeType `json:"trade_type"`
	IsContract bool      `json:"is_contract"`
	IsDayTrade bool      `json:"is_day_trade"`

	// Option attributes, set only when IsContract is true.
	Strike     decimal.NullDecimal `gorm:"type:text" json:"strike"`
	Expiration *time.Time          `gorm:"index" json:"expiration,omitempty"`
	OptionType OptionType          `json:"option_type,omitempty"`

	Status           TradeStatus         `gorm:"index" json:"status"`
	Size             decimal.Decimal     `gorm:"type:text" json:"size"`
	CurrentSize      decimal.Decimal     `gorm:"type:text" json:"current_size"`
	AveragePrice     decimal.Decimal     `gorm:"type:text" json:"average_price"`
	AverageExitPrice decimal.NullDecimal `gorm:"type:text" json:"average_exit_price"`
	EntryAt          time.Time           `json:"entry_at"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`

	ProfitLoss      decimal.Decimal     `gorm:"type:text" json:"profit_loss"`
	InitialRisk     decimal.NullDecimal `gorm:"type:text" json:"initial_risk"`
	RiskRewardRatio decimal.NullDecimal `gorm:"type:text" json:"risk_reward_ratio"`
	WinLoss         WinLoss             `json:"win_loss,omitempty"`

	// Ownership and routing.
	UserID     *string `gorm:"index" json:"user_id,omitempty"`
	GroupName  string  `gorm:"index" json:"group_name,omitempty"`
	StrategyID *string `gorm:"index" json:"strategy_id,omitempty"`
}

// Multiplier returns the P&L multiplier for the trade (100 for contracts).
func (t *Trade) Multiplier() decimal.Decimal {
	if t.IsContract {
		return ContractMultiplier
	}
	return decimal.NewFromInt(1)
}

// TradeTransaction is an immutable lifecycle event against a trade.
// Replaying a trade's transactions in (created_at, id) order reproduces
// the trade's derived state exactly.
type TradeTransaction struct {
	gorm.Model
	TradeID string          `gorm:"index" json:"trade_id"`
	Type    TransactionType `json:"type"`
	Size    decimal.Decimal `gorm:"type:text" json:"size"`
	Amount  decimal.Decimal `gorm:"type:text" json:"amount"` // price per unit
}

// OptionsStrategyTrade is a multi-leg option strategy. It owns a set of
// constituent leg Trades (linked via Trade.StrategyID) and carries no
// per-leg price data itself; NetCost is derived from the strategy's own
// transaction history the same way AveragePrice is for single trades.
type OptionsStrategyTrade struct {
	gorm.Model
	StrategyID string `gorm:"uniqueIndex" json:"strategy_id"`
	Name       string `json:"name"`
	Underlying string `gorm:"index" json:"underlying"`

	Status          TradeStatus         `gorm:"index" json:"status"`
	Size            decimal.Decimal     `gorm:"type:text" json:"size"`
	CurrentSize     decimal.Decimal     `gorm:"type:text" json:"current_size"`
	NetCost         decimal.Decimal     `gorm:"type:text" json:"net_cost"`
	AverageExitCost decimal.NullDecimal `gorm:"type:text" json:"average_exit_cost"`
	EntryAt         time.Time           `json:"entry_at"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`

	ProfitLoss decimal.Decimal `gorm:"type:text" json:"profit_loss"`
	WinLoss    WinLoss         `json:"win_loss,omitempty"`

	UserID    *string `gorm:"index" json:"user_id,omitempty"`
	GroupName string  `gorm:"index" json:"group_name,omitempty"`
}

// OptionsStrategyTransaction is a lifecycle event against a strategy.
// Amount is the net debit (positive) or credit (negative) per unit.
type OptionsStrategyTransaction struct {
	gorm.Model
	StrategyID string          `gorm:"index" json:"strategy_id"`
	Type       TransactionType `json:"type"`
	Size       decimal.Decimal `gorm:"type:text" json:"size"`
	Amount     decimal.Decimal `gorm:"type:text" json:"amount"`
}

// TableName overrides for cleaner table names
func (Trade) TableName() string {
	return "trades"
}

func (TradeTransaction) TableName() string {
	return "trade_transactions"
}

func (OptionsStrategyTrade) TableName() string {
	return "strategy_trades"
}

func (OptionsStrategyTransaction) TableName() string {
	return "strategy_transactions"
}
