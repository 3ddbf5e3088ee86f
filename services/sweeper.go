package services

import (
	"context"
	"time"

	"journal-trader/database"

	"github.com/sirupsen/logrus"
)

// ExpirationSweeper periodically force-closes option positions whose
// expiration has passed. The sweep is stateless and idempotent: candidates
// are selected by an OPEN-status query, so a second run over the same data
// closes nothing.
type ExpirationSweeper struct {
	ledger   *Ledger
	storage  *database.LocalStorage
	logger   *logrus.Logger
	interval time.Duration
}

// NewExpirationSweeper creates a sweeper that runs every interval.
func NewExpirationSweeper(ledger *Ledger, storage *database.LocalStorage, interval time.Duration, logger *logrus.Logger) *ExpirationSweeper {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return &ExpirationSweeper{
		ledger:   ledger,
		storage:  storage,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (es *ExpirationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(es.interval)
	defer ticker.Stop()

	es.logger.WithField("interval", es.interval).Info("Expiration sweeper started")

	es.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			es.logger.Info("Expiration sweeper stopped")
			return
		case <-ticker.C:
			es.sweep(ctx)
		}
	}
}

func (es *ExpirationSweeper) sweep(ctx context.Context) {
	closed, err := es.SweepOnce(ctx)
	if err != nil {
		es.logger.WithError(err).Error("Expiration sweep failed")
		return
	}
	if closed > 0 {
		es.logger.WithField("closed", closed).Info("Expiration sweep completed")
	}
}

// SweepOnce settles every expired open option trade and returns how many
// were closed. A failure on one trade (a missing spot price, say) is logged
// and skipped; it never aborts the sweep for the others.
func (es *ExpirationSweeper) SweepOnce(ctx context.Context) (int, error) {
	candidates, err := es.storage.ListExpiredOpenOptions(time.Now().UTC())
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, trade := range candidates {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}

		settled, err := es.ledger.ExitExpired(ctx, trade.TradeID)
		if err != nil {
			es.logger.WithError(err).WithFields(logrus.Fields{
				"trade_id": trade.TradeID,
				"symbol":   trade.Symbol,
			}).Warn("Skipping expired trade, will retry next sweep")
			continue
		}

		closed++
		es.logger.WithFields(logrus.Fields{
			"trade_id":    settled.TradeID,
			"symbol":      settled.Symbol,
			"profit_loss": settled.ProfitLoss,
			"win_loss":    settled.WinLoss,
		}).Info("Expired option settled")
	}

	return closed, nil
}
