package model

import "time"

// UserCredential stores one user's sealed Gmail refresh credential.
// RevokedAt is set once the provider rejects the refresh token and cleared
// by the next successful consent.
type UserCredential struct {
	ID                    uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID                string     `json:"user_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	EncryptedRefreshToken string     `json:"-" gorm:"type:text;not null"`
	AccountEmail          string     `json:"account_email" gorm:"type:varchar(320)"`
	RevokedAt             *time.Time `json:"revoked_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName specifies the table name for UserCredential
func (UserCredential) TableName() string {
	return "user_tokens"
}
