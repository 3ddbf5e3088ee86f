package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"journal-trader/config"
	"journal-trader/controllers"
	"journal-trader/database"
	"journal-trader/interfaces"
	"journal-trader/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	storage, err := database.NewLocalStorage(cfg.DBPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storage.Close()

	var quotes interfaces.QuoteService
	if cfg.QuoteAPIKey != "" {
		quotes = services.NewAlpacaQuoteService(
			cfg.QuoteAPIKey, cfg.QuoteAPISecret, cfg.QuoteBaseURL,
			cfg.QuoteTimeout, cfg.QuoteCacheTTL, logger)
	} else {
		logger.Warn("No quote API credentials; expired options will settle at zero via repair only")
	}

	journal := services.NewDailyJournal(cfg.JournalDir, logger)
	ledger := services.NewLedger(storage, quotes, journal, logger)
	ledger.QuoteTimeout = cfg.QuoteTimeout
	strategies := services.NewStrategyLedger(storage, journal, logger)
	projector := services.NewReportingProjector(storage, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := services.NewExpirationSweeper(ledger, storage, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	controllers.NewTradeController(ledger).RegisterRoutes(api)
	controllers.NewStrategyController(strategies).RegisterRoutes(api)
	controllers.NewReportController(projector, journal).RegisterRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Journal trader listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
	logger.Info("Shutdown complete")
}
