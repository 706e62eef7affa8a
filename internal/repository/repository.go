package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cold-outreach-go/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// UpsertCredential stores the sealed refresh token for a user, replacing any
// previous one and clearing a revocation mark.
func (r *Repository) UpsertCredential(ctx context.Context, cred *model.UserCredential) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_refresh_token", "account_email", "revoked_at", "updated_at"}),
	}).Create(cred)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert credential: %w", result.Error)
	}
	return nil
}

func (r *Repository) GetCredential(ctx context.Context, userID string) (*model.UserCredential, error) {
	var cred model.UserCredential
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &cred, nil
}

// SetAccountEmail records the verified Gmail address for a user.
func (r *Repository) SetAccountEmail(ctx context.Context, userID, email string) error {
	result := r.db.WithContext(ctx).Model(&model.UserCredential{}).
		Where("user_id = ?", userID).
		Update("account_email", email)
	if result.Error != nil {
		return fmt.Errorf("failed to set account email: %w", result.Error)
	}
	return nil
}

// MarkCredentialRevoked flags a user's credential as unusable until the user
// consents again. The first revocation time is kept.
func (r *Repository) MarkCredentialRevoked(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).Model(&model.UserCredential{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return fmt.Errorf("failed to mark credential revoked: %w", result.Error)
	}
	return nil
}

func (r *Repository) CreateOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error {
	if msg.Status == "" {
		msg.Status = model.EmailStatusSent
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to save email metadata: %w", err)
	}
	return nil
}

// ListUsersWithSentMessages returns the distinct users that own at least one
// message still in the sent state.
func (r *Repository) ListUsersWithSentMessages(ctx context.Context) ([]string, error) {
	var userIDs []string
	result := r.db.WithContext(ctx).Model(&model.OutboundMessage{}).
		Where("status = ? AND user_id <> ''", model.EmailStatusSent).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &userIDs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list users with sent emails: %w", result.Error)
	}
	return userIDs, nil
}

func (r *Repository) ListSentMessages(ctx context.Context, userID string) ([]model.OutboundMessage, error) {
	var msgs []model.OutboundMessage
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.EmailStatusSent).
		Order("id").
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sent emails: %w", result.Error)
	}
	return msgs, nil
}

// FindReply returns the reply recorded for a provider message id, or
// ErrNotFound.
func (r *Repository) FindReply(ctx context.Context, messageID string) (*model.InboundReply, error) {
	var reply model.InboundReply
	result := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&reply)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error checking reply: %w", result.Error)
	}
	return &reply, nil
}

// InsertReply records a reply unless one with the same provider message id
// already exists. The unique index on message_id decides; inserted reports
// whether this call created the row.
func (r *Repository) InsertReply(ctx context.Context, reply *model.InboundReply) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(reply)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert reply: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkReplied moves an email from sent to replied. Emails already replied are
// left untouched.
func (r *Repository) MarkReplied(ctx context.Context, emailID uint) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.OutboundMessage{}).
		Where("id = ? AND status = ?", emailID, model.EmailStatusSent).
		Update("status", model.EmailStatusReplied)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update email status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) GetOutboundMessage(ctx context.Context, id uint) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	result := r.db.WithContext(ctx).First(&msg, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &msg, nil
}

// ListReplies returns a user's replies, newest first, optionally for one campaign.
func (r *Repository) ListReplies(ctx context.Context, userID, campaignID string) ([]model.InboundReply, error) {
	q := r.db.WithContext(ctx).Preload("Email").Where("user_id = ?", userID)
	if campaignID != "" {
		q = q.Where("campaign_id = ?", campaignID)
	}

	var replies []model.InboundReply
	if err := q.Order("received_at DESC").Find(&replies).Error; err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	return replies, nil
}

// TagReply sets the outcome tag on a reply owned by userID.
func (r *Repository) TagReply(ctx context.Context, userID string, replyID uint, tag string) (*model.InboundReply, error) {
	var reply model.InboundReply
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", replyID, userID).First(&reply)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	var value *string
	if tag != "" {
		value = &tag
	}
	if err := r.db.WithContext(ctx).Model(&reply).Update("outcome_tag", value).Error; err != nil {
		return nil, fmt.Errorf("failed to tag reply: %w", err)
	}
	reply.OutcomeTag = value
	return &reply, nil
}

func (r *Repository) CreateRun(ctx context.Context, run *model.ReconcileRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (r *Repository) FinishRun(ctx context.Context, run *model.ReconcileRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// ListRuns returns reconcile runs newest first with the total count.
func (r *Repository) ListRuns(ctx context.Context, page, limit int) ([]model.ReconcileRun, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.ReconcileRun{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	var runs []model.ReconcileRun
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, total, nil
}

func (r *Repository) GetRun(ctx context.Context, id uint) (*model.ReconcileRun, error) {
	var run model.ReconcileRun
	result := r.db.WithContext(ctx).First(&run, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &run, nil
}
