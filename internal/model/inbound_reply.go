package model

import "time"

// InboundReply is a third-party message detected in an outbound thread.
// MessageID is unique across all replies.
type InboundReply struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID     uint      `json:"email_id" gorm:"not null;index"`
	UserID      string    `json:"user_id" gorm:"type:varchar(255);not null;index"`
	CampaignID  string    `json:"campaign_id" gorm:"type:varchar(255);index"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ThreadID    string    `json:"thread_id" gorm:"type:varchar(255);not null"`
	Snippet     string    `json:"snippet" gorm:"type:text"`
	FromAddress string    `json:"from_address" gorm:"type:varchar(512)"`
	ReceivedAt  time.Time `json:"received_at"`
	OutcomeTag  *string   `json:"outcome_tag" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"`

	Email *OutboundMessage `json:"email,omitempty" gorm:"foreignKey:EmailID"`
}

// TableName specifies the table name for InboundReply
func (InboundReply) TableName() string {
	return "replies"
}
