package controllers

import (
	"net/http"
	"time"

	"journal-trader/database"
	"journal-trader/models"
	"journal-trader/services"

	"github.com/gin-gonic/gin"
)

// ReportController serves performance aggregates and daily journal files.
type ReportController struct {
	projector *services.ReportingProjector
	journal   *services.DailyJournal
}

// NewReportController creates a new report controller
func NewReportController(projector *services.ReportingProjector, journal *services.DailyJournal) *ReportController {
	return &ReportController{
		projector: projector,
		journal:   journal,
	}
}

// RegisterRoutes mounts the reporting endpoints under api.
func (rc *ReportController) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/reports/summary", rc.HandleSummary)
	api.GET("/reports/journal/:date", rc.HandleJournal)
}

// HandleSummary aggregates performance across trades matching the filters
// GET /api/v1/reports/summary?status=CLOSED&group=day_trader
func (rc *ReportController) HandleSummary(c *gin.Context) {
	filter := database.TradeFilter{
		Status:    models.TradeStatus(c.Query("status")),
		Symbol:    c.Query("symbol"),
		GroupName: c.Query("group"),
		UserID:    c.Query("user_id"),
	}

	summary, err := rc.projector.Summary(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to build summary",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleJournal returns the daily journal for a given date
// GET /api/v1/reports/journal/2026-08-30
func (rc *ReportController) HandleJournal(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid date",
			"details": "expected YYYY-MM-DD",
		})
		return
	}

	log, err := rc.journal.GetLogForDate(date)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "No journal for date",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, log)
}
