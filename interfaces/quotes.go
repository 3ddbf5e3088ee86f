package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest traded price for a symbol.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// QuoteService provides spot prices for settlement. Implementations must
// honor ctx deadlines; the expiration sweeper calls this with a timeout and
// skips the trade when the lookup fails. A nil error with a zero Price means
// the symbol has no quotable spot, which settles options as worthless.
type QuoteService interface {
	GetSpotPrice(ctx context.Context, symbol string) (*Quote, error)
}
