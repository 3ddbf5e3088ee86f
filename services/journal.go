package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"journal-trader/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DailyJournal appends ledger lifecycle events to per-day JSON files that
// the external reporting bot renders into channel posts. Writes are best
// effort: a journal failure is logged and never fails the ledger operation
// that triggered it.
type DailyJournal struct {
	logger *logrus.Logger
	dir    string
	mu     sync.Mutex
}

// DayLog is one day's worth of journal activity.
type DayLog struct {
	Date            string         `json:"date"`
	Summary         DaySummary     `json:"summary"`
	PositionsOpened []JournalEntry `json:"positions_opened"`
	PositionsClosed []JournalEntry `json:"positions_closed"`
}

// DaySummary provides running totals for the day.
type DaySummary struct {
	PositionsOpened int             `json:"positions_opened"`
	PositionsClosed int             `json:"positions_closed"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
}

// JournalEntry records one open or close event.
type JournalEntry struct {
	Timestamp  time.Time        `json:"timestamp"`
	TradeID    string           `json:"trade_id"`
	Symbol     string           `json:"symbol"`
	TradeType  models.TradeType `json:"trade_type"`
	IsContract bool             `json:"is_contract"`
	Size       decimal.Decimal  `json:"size"`
	Price      decimal.Decimal  `json:"price"`
	ProfitLoss *decimal.Decimal `json:"profit_loss,omitempty"`
	WinLoss    models.WinLoss   `json:"win_loss,omitempty"`
	GroupName  string           `json:"group_name,omitempty"`
}

// NewDailyJournal creates a journal writing day files under dir.
func NewDailyJournal(dir string, logger *logrus.Logger) *DailyJournal {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.WithError(err).Error("Failed to create journal directory")
	}

	return &DailyJournal{
		logger: logger,
		dir:    dir,
	}
}

// LogOpened records a newly opened position.
func (dj *DailyJournal) LogOpened(trade *models.Trade) {
	dj.append(func(log *DayLog) {
		log.PositionsOpened = append(log.PositionsOpened, JournalEntry{
			Timestamp:  time.Now().UTC(),
			TradeID:    trade.TradeID,
			Symbol:     trade.Symbol,
			TradeType:  trade.TradeType,
			IsContract: trade.IsContract,
			Size:       trade.Size,
			Price:      trade.AveragePrice,
			GroupName:  trade.GroupName,
		})
		log.Summary.PositionsOpened++
	})
}

// LogClosed records a fully closed position.
func (dj *DailyJournal) LogClosed(trade *models.Trade) {
	pl := trade.ProfitLoss
	entry := JournalEntry{
		Timestamp:  time.Now().UTC(),
		TradeID:    trade.TradeID,
		Symbol:     trade.Symbol,
		TradeType:  trade.TradeType,
		IsContract: trade.IsContract,
		Size:       trade.Size,
		ProfitLoss: &pl,
		WinLoss:    trade.WinLoss,
		GroupName:  trade.GroupName,
	}
	if trade.AverageExitPrice.Valid {
		entry.Price = trade.AverageExitPrice.Decimal
	}

	dj.append(func(log *DayLog) {
		log.PositionsClosed = append(log.PositionsClosed, entry)
		log.Summary.PositionsClosed++
		log.Summary.TotalProfitLoss = log.Summary.TotalProfitLoss.Add(pl)
		if trade.WinLoss == models.WinLossWin {
			log.Summary.WinningTrades++
		} else {
			log.Summary.LosingTrades++
		}
	})
}

// GetLogForDate retrieves the journal for a specific date (YYYY-MM-DD).
func (dj *DailyJournal) GetLogForDate(date string) (*DayLog, error) {
	dj.mu.Lock()
	defer dj.mu.Unlock()

	data, err := os.ReadFile(dj.fileForDate(date))
	if err != nil {
		return nil, fmt.Errorf("journal not found for date %s: %w", date, err)
	}

	var log DayLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse journal: %w", err)
	}
	return &log, nil
}

// append loads today's log, applies fn and writes it back.
func (dj *DailyJournal) append(fn func(log *DayLog)) {
	dj.mu.Lock()
	defer dj.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	log := &DayLog{
		Date:            date,
		PositionsOpened: make([]JournalEntry, 0),
		PositionsClosed: make([]JournalEntry, 0),
	}
	if data, err := os.ReadFile(dj.fileForDate(date)); err == nil {
		if err := json.Unmarshal(data, log); err != nil {
			dj.logger.WithError(err).WithField("date", date).Warn("Corrupt journal file, starting fresh")
			log = &DayLog{
				Date:            date,
				PositionsOpened: make([]JournalEntry, 0),
				PositionsClosed: make([]JournalEntry, 0),
			}
		}
	}

	fn(log)

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		dj.logger.WithError(err).Error("Failed to marshal journal")
		return
	}
	if err := os.WriteFile(dj.fileForDate(date), data, 0644); err != nil {
		dj.logger.WithError(err).Error("Failed to write journal file")
	}
}

func (dj *DailyJournal) fileForDate(date string) string {
	return filepath.Join(dj.dir, fmt.Sprintf("journal_%s.json", date))
}
