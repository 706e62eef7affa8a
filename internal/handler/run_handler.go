package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetRuns returns reconciliation runs with pagination
func (h *Handlers) GetRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	runs, total, err := h.store.ListRuns(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to fetch runs")
		return
	}

	c.JSON(http.StatusOK, RunListResponse{
		Runs:  runs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetRun returns a specific reconciliation run
func (h *Handlers) GetRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "Invalid run ID")
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), uint(id))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}
