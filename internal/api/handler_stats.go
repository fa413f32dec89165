package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dailydrive/internal/model"
	"dailydrive/internal/stats"
	habitsync "dailydrive/internal/sync"
)

type StatsHandler struct {
	engine *habitsync.Engine
	now    func() time.Time
}

func NewStatsHandler(engine *habitsync.Engine) *StatsHandler {
	return &StatsHandler{engine: engine, now: time.Now}
}

// today clamps "today" to the tracked month: the current day when the wall
// clock is still inside it, otherwise the month's last day.
func (h *StatsHandler) today() int {
	now := h.now()
	if now.Year() == h.engine.Year() && int(now.Month()) == h.engine.Month() {
		return now.Day()
	}
	return model.DaysIn(h.engine.Year(), h.engine.Month())
}

// Summary handles GET /stats/summary
func (h *StatsHandler) Summary(c *gin.Context) {
	ds, err := h.engine.Dataset()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	c.JSON(http.StatusOK, stats.Summarize(ds, h.engine.Year(), h.engine.Month(), h.today()))
}

// Streak handles GET /stats/streak
func (h *StatsHandler) Streak(c *gin.Context) {
	ds, err := h.engine.Dataset()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"streak": stats.Streak(ds, h.engine.Year(), h.engine.Month(), h.today()),
	})
}

// Heatmap handles GET /stats/heatmap
func (h *StatsHandler) Heatmap(c *gin.Context) {
	ds, err := h.engine.Dataset()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days": stats.HeatmapLevels(ds, h.engine.Year(), h.engine.Month(), h.today()),
	})
}

// Incomplete handles GET /stats/incomplete
func (h *StatsHandler) Incomplete(c *gin.Context) {
	ds, err := h.engine.Dataset()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	incomplete := stats.IncompleteToday(ds, h.engine.Year(), h.engine.Month(), h.today())
	c.JSON(http.StatusOK, gin.H{
		"count":  len(incomplete),
		"habits": incomplete,
	})
}
