package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/gmail"
	"cold-outreach-go/internal/mailer"
	"cold-outreach-go/internal/metrics"
	"cold-outreach-go/internal/model"
)

// SendRequest is an email to send on behalf of the user. The four threading
// fields together turn the send into a reply on an existing thread.
type SendRequest struct {
	CampaignID     string `json:"campaignId"`
	RecipientEmail string `json:"recipientEmail"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	ThreadID       string `json:"threadId,omitempty"`
	InReplyTo      string `json:"inReplyTo,omitempty"`
	References     string `json:"references,omitempty"`
	FromAddress    string `json:"fromAddress,omitempty"`
}

func (r SendRequest) isReply() bool {
	return r.ThreadID != "" && r.InReplyTo != "" && r.References != "" && r.FromAddress != ""
}

// SendResult identifies the sent email.
type SendResult struct {
	EmailID   uint   `json:"email_id"`
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// AccessTokenProvider yields a current access token for a user.
type AccessTokenProvider interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Sender posts a raw message to Gmail.
type Sender interface {
	Send(ctx context.Context, accessToken, raw, threadID string) (*gmail.SendResult, error)
}

// MessageStore records sent emails.
type MessageStore interface {
	CreateOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error
}

// DispatchService sends emails through the user's Gmail account.
type DispatchService struct {
	tokens  AccessTokenProvider
	sender  Sender
	store   MessageStore
	metrics *metrics.Metrics
}

func NewDispatchService(tokens AccessTokenProvider, sender Sender, store MessageStore, m *metrics.Metrics) *DispatchService {
	return &DispatchService{tokens: tokens, sender: sender, store: store, metrics: m}
}

// Send composes and sends one email, then records it with status sent.
// The Gmail call is never retried.
func (s *DispatchService) Send(ctx context.Context, userID string, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.RecipientEmail) == "" || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, invalid("recipient email, subject, and body are required")
	}

	log := logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"campaign_id": req.CampaignID,
		"recipient":   req.RecipientEmail,
	})

	accessToken, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		s.metrics.SendFailures.Inc()
		log.WithError(err).Warn("Cannot send email without Gmail access")
		return nil, err
	}

	var raw string
	if req.isReply() {
		raw = mailer.ComposeReply(req.RecipientEmail, req.Subject, req.Body, mailer.ReplyOptions{
			From:       req.FromAddress,
			ThreadID:   req.ThreadID,
			InReplyTo:  req.InReplyTo,
			References: req.References,
		})
	} else {
		raw = mailer.ComposeNew(req.RecipientEmail, req.Subject, req.Body)
	}

	sent, err := s.sender.Send(ctx, accessToken, raw, req.ThreadID)
	if err != nil {
		s.metrics.SendFailures.Inc()
		log.WithError(err).Error("Failed to send email")
		return nil, err
	}
	s.metrics.EmailsSent.Inc()

	msg := &model.OutboundMessage{
		CampaignID:     req.CampaignID,
		UserID:         userID,
		RecipientEmail: req.RecipientEmail,
		Subject:        req.Subject,
		OriginalDraft:  req.Body,
		MessageID:      sent.MessageID,
		ThreadID:       sent.ThreadID,
		Status:         model.EmailStatusSent,
	}
	if err := s.store.CreateOutboundMessage(ctx, msg); err != nil {
		s.metrics.UnrecordedDeliveries.Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"provider_message_id": sent.MessageID,
			"thread_id":           sent.ThreadID,
			"severity":            "unrecorded_delivery",
		}).Error("Email was delivered but its metadata could not be saved")
		return nil, &UnrecordedDeliveryError{MessageID: sent.MessageID, ThreadID: sent.ThreadID, Err: err}
	}

	log.WithFields(logrus.Fields{
		"email_id":   msg.ID,
		"message_id": sent.MessageID,
		"thread_id":  sent.ThreadID,
	}).Info("Email sent")

	return &SendResult{EmailID: msg.ID, MessageID: sent.MessageID, ThreadID: sent.ThreadID}, nil
}
