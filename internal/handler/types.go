package handler

import (
	"time"

	"cold-outreach-go/internal/model"
)

// TokenRequest completes the OAuth flow from the frontend callback page
type TokenRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state"`
}

// TagRequest sets or clears a reply's outcome tag
type TagRequest struct {
	Tag string `json:"tag" binding:"max=64"`
}

// ReplyResponse represents a detected reply with its originating email
type ReplyResponse struct {
	ID             uint      `json:"id"`
	EmailID        uint      `json:"email_id"`
	CampaignID     string    `json:"campaign_id"`
	MessageID      string    `json:"message_id"`
	ThreadID       string    `json:"thread_id"`
	Snippet        string    `json:"snippet"`
	FromAddress    string    `json:"from_address"`
	ReceivedAt     time.Time `json:"received_at"`
	OutcomeTag     *string   `json:"outcome_tag"`
	Subject        string    `json:"subject,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
}

func newReplyResponse(r model.InboundReply) ReplyResponse {
	resp := ReplyResponse{
		ID:          r.ID,
		EmailID:     r.EmailID,
		CampaignID:  r.CampaignID,
		MessageID:   r.MessageID,
		ThreadID:    r.ThreadID,
		Snippet:     r.Snippet,
		FromAddress: r.FromAddress,
		ReceivedAt:  r.ReceivedAt,
		OutcomeTag:  r.OutcomeTag,
	}
	if r.Email != nil {
		resp.Subject = r.Email.Subject
		resp.RecipientEmail = r.Email.RecipientEmail
	}
	return resp
}

// RunListResponse represents a page of reconciliation runs
type RunListResponse struct {
	Runs  []model.ReconcileRun `json:"runs"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler map[string]string `json:"scheduler,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
