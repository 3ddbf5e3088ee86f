package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"journal-trader/interfaces"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AlpacaQuoteService provides spot prices from Alpaca's market data API.
// Lookups are cached with a short TTL so a sweep over many positions on the
// same underlying hits the API once per symbol.
type AlpacaQuoteService struct {
	client *marketdata.Client
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewAlpacaQuoteService creates a quote service. baseURL may be empty for
// the default data endpoint; timeout bounds every HTTP call.
func NewAlpacaQuoteService(apiKey, secretKey, baseURL string, timeout, cacheTTL time.Duration, logger *logrus.Logger) *AlpacaQuoteService {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  secretKey,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	})

	return &AlpacaQuoteService{
		client: client,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		logger: logger,
	}
}

// GetSpotPrice returns the latest traded price for symbol.
func (s *AlpacaQuoteService) GetSpotPrice(ctx context.Context, symbol string) (*interfaces.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cached, found := s.cache.Get(symbol); found {
		return cached.(*interfaces.Quote), nil
	}

	latest, err := s.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest trade for %s: %w", symbol, err)
	}

	quote := &interfaces.Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(latest.Price),
		Timestamp: latest.Timestamp,
	}
	s.cache.Set(symbol, quote, cache.DefaultExpiration)

	s.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"price":  quote.Price,
	}).Debug("Spot price fetched")

	return quote, nil
}
