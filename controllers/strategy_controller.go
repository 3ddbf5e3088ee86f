package controllers

import (
	"context"
	"net/http"

	"journal-trader/services"

	"github.com/gin-gonic/gin"
)

// StrategyController exposes multi-leg option strategies over HTTP.
type StrategyController struct {
	ledger *services.StrategyLedger
}

// NewStrategyController creates a new strategy controller
func NewStrategyController(ledger *services.StrategyLedger) *StrategyController {
	return &StrategyController{
		ledger: ledger,
	}
}

// RegisterRoutes mounts the strategy endpoints under api.
func (sc *StrategyController) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/strategies", sc.HandleOpenStrategy)
	api.GET("/strategies/:id", sc.HandleGetStrategy)
	api.POST("/strategies/:id/add", sc.HandleAddToStrategy)
	api.POST("/strategies/:id/trim", sc.HandleTrimStrategy)
	api.POST("/strategies/:id/close", sc.HandleCloseStrategy)
	api.POST("/admin/repair-strategy/:id", sc.HandleRepairStrategy)
}

// HandleOpenStrategy opens a new multi-leg strategy with all of its legs
// POST /api/v1/strategies
func (sc *StrategyController) HandleOpenStrategy(c *gin.Context) {
	var req services.OpenStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	view, err := sc.ledger.OpenStrategy(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Failed to open strategy",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, view)
}

// HandleAddToStrategy adds to an open strategy across all legs
// POST /api/v1/strategies/:id/add
func (sc *StrategyController) HandleAddToStrategy(c *gin.Context) {
	sc.handleAdjust(c, sc.ledger.AddToStrategy, "Failed to add to strategy")
}

// HandleTrimStrategy exits part of a strategy across all legs
// POST /api/v1/strategies/:id/trim
func (sc *StrategyController) HandleTrimStrategy(c *gin.Context) {
	sc.handleAdjust(c, sc.ledger.TrimStrategy, "Failed to trim strategy")
}

// HandleCloseStrategy exits the full remaining strategy position
// POST /api/v1/strategies/:id/close
func (sc *StrategyController) HandleCloseStrategy(c *gin.Context) {
	sc.handleAdjust(c, sc.ledger.CloseStrategy, "Failed to close strategy")
}

func (sc *StrategyController) handleAdjust(c *gin.Context, op func(ctx context.Context, strategyID string, req *services.AdjustStrategyRequest) (*services.StrategyView, error), errMsg string) {
	var req services.AdjustStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	view, err := op(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   errMsg,
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

// HandleRepairStrategy recomputes a strategy's derived state from its log
// POST /api/v1/admin/repair-strategy/:id
func (sc *StrategyController) HandleRepairStrategy(c *gin.Context) {
	repaired, err := sc.ledger.RepairStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Repair failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy_id": c.Param("id"),
		"repaired":    repaired,
	})
}

// HandleGetStrategy retrieves a strategy with its legs
// GET /api/v1/strategies/:id
func (sc *StrategyController) HandleGetStrategy(c *gin.Context) {
	view, err := sc.ledger.GetStrategy(c.Param("id"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error":   "Strategy not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, view)
}
