package controllers

import (
	"context"
	"errors"
	"net/http"

	"journal-trader/database"
	"journal-trader/models"
	"journal-trader/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TradeController exposes the position ledger over HTTP. It binds requests,
// calls the ledger and maps its typed errors to status codes; all business
// rules live in the services layer.
type TradeController struct {
	ledger *services.Ledger
}

// NewTradeController creates a new trade controller
func NewTradeController(ledger *services.Ledger) *TradeController {
	return &TradeController{
		ledger: ledger,
	}
}

// RegisterRoutes mounts the trade endpoints under api.
func (tc *TradeController) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/trades", tc.HandleOpenTrade)
	api.GET("/trades", tc.HandleListTrades)
	api.GET("/trades/:id", tc.HandleGetTrade)
	api.GET("/trades/:id/transactions", tc.HandleListTransactions)
	api.POST("/trades/:id/add", tc.HandleAddToTrade)
	api.POST("/trades/:id/trim", tc.HandleTrimTrade)
	api.POST("/trades/:id/exit", tc.HandleExitTrade)
	api.POST("/admin/repair/:id", tc.HandleRepairTrade)
}

type adjustTradeRequest struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// HandleOpenTrade opens a new position
// POST /api/v1/trades
func (tc *TradeController) HandleOpenTrade(c *gin.Context) {
	var req services.OpenTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	trade, err := tc.ledger.Open(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Failed to open trade",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, trade)
}

// HandleAddToTrade adds to an open position
// POST /api/v1/trades/:id/add
func (tc *TradeController) HandleAddToTrade(c *gin.Context) {
	tc.handleAdjust(c, tc.ledger.Add)
}

// HandleTrimTrade exits part of a position
// POST /api/v1/trades/:id/trim
func (tc *TradeController) HandleTrimTrade(c *gin.Context) {
	tc.handleAdjust(c, tc.ledger.Trim)
}

// HandleExitTrade exits a position, closing it when fully exited
// POST /api/v1/trades/:id/exit
func (tc *TradeController) HandleExitTrade(c *gin.Context) {
	tc.handleAdjust(c, tc.ledger.Exit)
}

func (tc *TradeController) handleAdjust(c *gin.Context, op func(ctx context.Context, tradeID string, price, size decimal.Decimal) (*models.Trade, error)) {
	tradeID := c.Param("id")

	var req adjustTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	trade, err := op(c.Request.Context(), tradeID, req.Price, req.Size)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Failed to update trade",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, trade)
}

// HandleGetTrade retrieves a trade snapshot
// GET /api/v1/trades/:id
func (tc *TradeController) HandleGetTrade(c *gin.Context) {
	trade, err := tc.ledger.GetTrade(c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Trade not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, trade)
}

// HandleListTrades lists trades with optional filters
// GET /api/v1/trades?status=OPEN&symbol=AAPL&group=day_trader
func (tc *TradeController) HandleListTrades(c *gin.Context) {
	filter := database.TradeFilter{
		Status:    models.TradeStatus(c.Query("status")),
		Symbol:    c.Query("symbol"),
		GroupName: c.Query("group"),
		UserID:    c.Query("user_id"),
	}

	trades, err := tc.ledger.ListTrades(filter)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Failed to list trades",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

// HandleListTransactions returns a trade's full event history
// GET /api/v1/trades/:id/transactions
func (tc *TradeController) HandleListTransactions(c *gin.Context) {
	txns, err := tc.ledger.ListTransactions(c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Failed to list transactions",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":        len(txns),
		"transactions": txns,
	})
}

// HandleRepairTrade recomputes a trade's derived state from its log
// POST /api/v1/admin/repair/:id
func (tc *TradeController) HandleRepairTrade(c *gin.Context) {
	repaired, err := tc.ledger.RepairTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Repair failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trade_id": c.Param("id"),
		"repaired": repaired,
	})
}

// statusForError maps ledger sentinel errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
