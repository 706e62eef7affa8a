package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/drafting"
)

// DraftRequest asks for a cold email, or a follow-up when thread context
// and notes are both given.
type DraftRequest struct {
	CampaignID    string `json:"campaignId"`
	CampaignGoal  string `json:"campaignGoal"`
	Audience      string `json:"audience"`
	ThreadContext string `json:"thread_context"`
	UserNotes     string `json:"user_notes"`
}

type DraftService struct {
	composer drafting.Composer
}

func NewDraftService(composer drafting.Composer) *DraftService {
	return &DraftService{composer: composer}
}

// Generate validates the request and asks the model for a draft.
func (s *DraftService) Generate(ctx context.Context, userID string, req DraftRequest) (*drafting.Draft, error) {
	if strings.TrimSpace(req.CampaignGoal) == "" || strings.TrimSpace(req.Audience) == "" {
		return nil, invalid("campaign goal and audience are required")
	}

	draft, err := s.composer.Compose(ctx, drafting.PromptContext{
		CampaignGoal:  req.CampaignGoal,
		Audience:      req.Audience,
		ThreadContext: req.ThreadContext,
		UserNotes:     req.UserNotes,
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":     userID,
			"campaign_id": req.CampaignID,
		}).Error("Failed to generate email draft")
		return nil, err
	}
	return draft, nil
}
