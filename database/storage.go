package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"journal-trader/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LocalStorage persists the trade ledger in SQLite via gorm.
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// TradeFilter narrows ListTrades queries. Zero values match everything.
type TradeFilter struct {
	Status     models.TradeStatus
	Symbol     string
	GroupName  string
	UserID     string
	StrategyID string
}

// NewLocalStorage opens (or creates) the SQLite database at dbPath and
// migrates the ledger schema.
func NewLocalStorage(dbPath string, log *logrus.Logger) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Trade{},
		&models.TradeTransaction{},
		&models.OptionsStrategyTrade{},
		&models.OptionsStrategyTransaction{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return &LocalStorage{
		db:     db,
		logger: log,
	}, nil
}

// Transaction runs fn inside a single database transaction. The LocalStorage
// passed to fn is scoped to that transaction; any error from fn rolls the
// whole unit of work back.
func (s *LocalStorage) Transaction(fn func(txs *LocalStorage) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&LocalStorage{db: tx, logger: s.logger})
	})
}

// CreateTrade inserts a trade row.
func (s *LocalStorage) CreateTrade(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// SaveTrade persists the current state of a trade.
func (s *LocalStorage) SaveTrade(trade *models.Trade) error {
	if err := s.db.Save(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetTrade retrieves a trade by its ledger identifier. Returns
// gorm.ErrRecordNotFound (wrapped) when the trade does not exist.
func (s *LocalStorage) GetTrade(tradeID string) (*models.Trade, error) {
	var trade models.Trade
	if err := s.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", tradeID, err)
	}
	return &trade, nil
}

// ListTrades returns trades matching the filter, newest first.
func (s *LocalStorage) ListTrades(filter TradeFilter) ([]*models.Trade, error) {
	query := s.db.Model(&models.Trade{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.GroupName != "" {
		query = query.Where("group_name = ?", filter.GroupName)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.StrategyID != "" {
		query = query.Where("strategy_id = ?", filter.StrategyID)
	}

	var trades []*models.Trade
	if err := query.Order("entry_at DESC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// ListExpiredOpenOptions returns OPEN contract trades whose expiration has
// passed as of asOf. The status predicate is evaluated here, inside the
// query, so a trade closed by an earlier sweep never reappears.
func (s *LocalStorage) ListExpiredOpenOptions(asOf time.Time) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.
		Where("status = ? AND is_contract = ? AND expiration IS NOT NULL AND expiration <= ?",
			models.StatusOpen, true, asOf).
		Order("expiration ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired options: %w", err)
	}
	return trades, nil
}

// AppendTransaction appends a lifecycle event to the transaction log.
// Transactions are immutable once written.
func (s *LocalStorage) AppendTransaction(txn *models.TradeTransaction) error {
	if err := s.db.Create(txn).Error; err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a trade's full event history ordered by
// created_at with the auto-increment id breaking ties, i.e. insertion order.
func (s *LocalStorage) ListTransactions(tradeID string) ([]*models.TradeTransaction, error) {
	var txns []*models.TradeTransaction
	err := s.db.
		Where("trade_id = ?", tradeID).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", tradeID, err)
	}
	return txns, nil
}

// CreateStrategy inserts a strategy row.
func (s *LocalStorage) CreateStrategy(strategy *models.OptionsStrategyTrade) error {
	if err := s.db.Create(strategy).Error; err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}
	return nil
}

// SaveStrategy persists the current state of a strategy.
func (s *LocalStorage) SaveStrategy(strategy *models.OptionsStrategyTrade) error {
	if err := s.db.Save(strategy).Error; err != nil {
		return fmt.Errorf("failed to save strategy: %w", err)
	}
	return nil
}

// GetStrategy retrieves a strategy by identifier.
func (s *LocalStorage) GetStrategy(strategyID string) (*models.OptionsStrategyTrade, error) {
	var strategy models.OptionsStrategyTrade
	if err := s.db.Where("strategy_id = ?", strategyID).First(&strategy).Error; err != nil {
		return nil, fmt.Errorf("failed to get strategy %s: %w", strategyID, err)
	}
	return &strategy, nil
}

// AppendStrategyTransaction appends a lifecycle event to a strategy's log.
func (s *LocalStorage) AppendStrategyTransaction(txn *models.OptionsStrategyTransaction) error {
	if err := s.db.Create(txn).Error; err != nil {
		return fmt.Errorf("failed to append strategy transaction: %w", err)
	}
	return nil
}

// ListStrategyTransactions returns a strategy's event history in insertion order.
func (s *LocalStorage) ListStrategyTransactions(strategyID string) ([]*models.OptionsStrategyTransaction, error) {
	var txns []*models.OptionsStrategyTransaction
	err := s.db.
		Where("strategy_id = ?", strategyID).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list strategy transactions for %s: %w", strategyID, err)
	}
	return txns, nil
}

// Close closes the underlying database connection.
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
