package model

import "time"

// Email statuses. A message only ever moves from sent to replied.
const (
	EmailStatusSent    = "sent"
	EmailStatusReplied = "replied"
)

// OutboundMessage is one message this service sent through a user's Gmail
type OutboundMessage struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CampaignID     string    `json:"campaign_id" gorm:"type:varchar(255);index"`
	UserID         string    `json:"user_id" gorm:"type:varchar(255);not null;index:idx_emails_user_status,priority:1"`
	RecipientEmail string    `json:"recipient_email" gorm:"type:varchar(320);not null"`
	Subject        string    `json:"subject" gorm:"type:text"`
	OriginalDraft  string    `json:"original_draft" gorm:"type:text"`
	MessageID      string    `json:"message_id" gorm:"type:varchar(255);not null"`
	ThreadID       string    `json:"thread_id" gorm:"type:varchar(255);not null;index"`
	Status         string    `json:"status" gorm:"type:varchar(20);not null;default:sent;index:idx_emails_user_status,priority:2"`
	SentAt         time.Time `json:"sent_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for OutboundMessage
func (OutboundMessage) TableName() string {
	return "emails"
}
