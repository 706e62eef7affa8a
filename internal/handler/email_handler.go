package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cold-outreach-go/internal/service"
)

// SendEmail sends an email through the current user's Gmail account
func (h *Handlers) SendEmail(c *gin.Context) {
	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	result, err := h.dispatch.Send(c.Request.Context(), currentUser(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"emailId":   result.EmailID,
		"messageId": result.MessageID,
		"threadId":  result.ThreadID,
		"message":   "Email sent successfully",
	})
}

// GenerateDraft asks the drafting model for a cold or follow-up email
func (h *Handlers) GenerateDraft(c *gin.Context) {
	var req service.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	draft, err := h.drafts.Generate(c.Request.Context(), currentUser(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"email":   draft,
	})
}
