package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	habitsync "dailydrive/internal/sync"
)

type DatasetHandler struct {
	engine *habitsync.Engine
}

func NewDatasetHandler(engine *habitsync.Engine) *DatasetHandler {
	return &DatasetHandler{engine: engine}
}

// Get handles GET /dataset
func (h *DatasetHandler) Get(c *gin.Context) {
	ds, err := h.engine.Dataset()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	c.JSON(http.StatusOK, ds)
}

// Toggle handles POST /days/:date/toggle
func (h *DatasetHandler) Toggle(c *gin.Context) {
	var req struct {
		HabitID string `json:"habit_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.HabitID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.engine.ToggleCompletion(c.Request.Context(), c.Param("date"), req.HabitID)
	if err != nil {
		h.mutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "toggled"})
}

// AddHabit handles POST /habits
func (h *DatasetHandler) AddHabit(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	habit, err := h.engine.AddHabit(c.Request.Context(), req.Name, req.Icon)
	if err != nil {
		h.mutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, habit)
}

// RemoveHabit handles DELETE /habits/:id
func (h *DatasetHandler) RemoveHabit(c *gin.Context) {
	if err := h.engine.RemoveHabit(c.Request.Context(), c.Param("id")); err != nil {
		h.mutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// Reset handles POST /reset
func (h *DatasetHandler) Reset(c *gin.Context) {
	if err := h.engine.ResetMonth(c.Request.Context()); err != nil {
		h.mutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// Events handles GET /events: an SSE stream of re-render triggers.
func (h *DatasetHandler) Events(c *gin.Context) {
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-h.engine.Events():
			if !ok {
				return false
			}
			c.SSEvent("change", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *DatasetHandler) mutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, habitsync.ErrNotLoaded):
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
	case errors.Is(err, habitsync.ErrUnknownHabit),
		errors.Is(err, habitsync.ErrOutOfMonth),
		errors.Is(err, habitsync.ErrEmptyName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence failed"})
	}
}
