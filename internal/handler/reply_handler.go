package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetReplies returns the current user's replies, optionally for one campaign
func (h *Handlers) GetReplies(c *gin.Context) {
	replies, err := h.store.ListReplies(c.Request.Context(), currentUser(c), c.Query("campaign_id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to fetch replies")
		return
	}

	responses := make([]ReplyResponse, 0, len(replies))
	for _, r := range replies {
		responses = append(responses, newReplyResponse(r))
	}

	c.JSON(http.StatusOK, responses)
}

// TagReply sets the outcome tag of one of the current user's replies
func (h *Handlers) TagReply(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "Invalid reply ID")
		return
	}

	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	reply, err := h.store.TagReply(c.Request.Context(), currentUser(c), uint(id), req.Tag)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newReplyResponse(*reply))
}
