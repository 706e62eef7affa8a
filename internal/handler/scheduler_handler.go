package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the reply reconciliation scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		respondError(c, http.StatusInternalServerError, "scheduler_error", "Failed to start scheduler")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the reply reconciliation scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		respondError(c, http.StatusInternalServerError, "scheduler_error", "Failed to stop scheduler")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs reply reconciliation immediately
func (h *Handlers) RunOnce(c *gin.Context) {
	run, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		if run != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "run_failed",
				"message": err.Error(),
				"code":    http.StatusInternalServerError,
				"run":     run,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Polling complete",
		"run":     run,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}
