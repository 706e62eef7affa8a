package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cold-outreach-go/internal/service"
)

// GetAuthURL returns the Google consent URL for the current user
func (h *Handlers) GetAuthURL(c *gin.Context) {
	url, err := h.credentials.AuthorizationURL(currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ExchangeToken stores the credential for an authorization code relayed by
// the frontend
func (h *Handlers) ExchangeToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "Authorization code is missing")
		return
	}

	var (
		status *service.ConnectionStatus
		err    error
	)
	userID := currentUser(c)
	if req.State == "" {
		status, err = h.credentials.Connect(c.Request.Context(), userID, req.Code)
	} else {
		status, err = h.credentials.ConnectWithState(c.Request.Context(), req.State, req.Code, userID)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully connected Gmail account.",
		"status":  status,
	})
}

// OAuthCallback is Google's redirect target. The signed state identifies
// the user, so no bearer token is needed.
func (h *Handlers) OAuthCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		respondError(c, http.StatusBadRequest, "consent_denied", "Google consent was not granted: "+reason)
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		respondError(c, http.StatusBadRequest, "validation_error", "code and state are required")
		return
	}

	status, err := h.credentials.ConnectWithState(c.Request.Context(), state, code, "")
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully connected Gmail account.",
		"status":  status,
	})
}

// GetGmailStatus reports whether the current user has connected Gmail
func (h *Handlers) GetGmailStatus(c *gin.Context) {
	status, err := h.credentials.Status(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
