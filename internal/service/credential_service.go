package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/model"
	"cold-outreach-go/internal/oauth"
	"cold-outreach-go/internal/repository"
	"cold-outreach-go/internal/vault"
)

// CredentialStore persists sealed refresh tokens.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, cred *model.UserCredential) error
	GetCredential(ctx context.Context, userID string) (*model.UserCredential, error)
	MarkCredentialRevoked(ctx context.Context, userID string) error
}

// TokenExchanger is the OAuth provider.
type TokenExchanger interface {
	AuthorizationURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// ProfileReader resolves the mailbox address an access token belongs to.
type ProfileReader interface {
	Profile(ctx context.Context, accessToken string) (string, error)
}

// Sealer encrypts refresh tokens at rest.
type Sealer interface {
	Configured() bool
	Seal(plaintext string) (string, error)
	Open(blob string) (string, error)
}

// StateSigner signs the OAuth state parameter.
type StateSigner interface {
	Sign(userID string) (string, error)
	Verify(state string) (string, error)
}

// ConnectionStatus describes a user's Gmail link. ReconnectRequired is set
// when Google revoked the stored grant.
type ConnectionStatus struct {
	Connected         bool       `json:"connected"`
	ReconnectRequired bool       `json:"reconnect_required,omitempty"`
	AccountEmail      string     `json:"account_email,omitempty"`
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`
}

// CredentialService owns the OAuth connect flow and turns stored
// credentials into access tokens.
type CredentialService struct {
	store       CredentialStore
	oauth       TokenExchanger
	profiles    ProfileReader
	vault       Sealer
	state       StateSigner
	callTimeout time.Duration
}

func NewCredentialService(store CredentialStore, ex TokenExchanger, profiles ProfileReader, v Sealer, state StateSigner, callTimeout time.Duration) *CredentialService {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &CredentialService{
		store:       store,
		oauth:       ex,
		profiles:    profiles,
		vault:       v,
		state:       state,
		callTimeout: callTimeout,
	}
}

// AuthorizationURL returns the consent URL for userID.
func (s *CredentialService) AuthorizationURL(userID string) (string, error) {
	state, err := s.state.Sign(userID)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return s.oauth.AuthorizationURL(state)
}

// ConnectWithState completes the consent redirect. The user is taken from
// the signed state. When expectedUserID is set it must match.
func (s *CredentialService) ConnectWithState(ctx context.Context, state, code, expectedUserID string) (*ConnectionStatus, error) {
	userID, err := s.state.Verify(state)
	if err != nil {
		return nil, err
	}
	if expectedUserID != "" && userID != expectedUserID {
		return nil, invalid("oauth state belongs to another user")
	}
	return s.Connect(ctx, userID, code)
}

// Connect exchanges the authorization code and stores the sealed refresh
// token, replacing any earlier one.
func (s *CredentialService) Connect(ctx context.Context, userID, code string) (*ConnectionStatus, error) {
	if code == "" {
		return nil, invalid("authorization code is missing")
	}
	// The code is single use, so configuration is checked before spending it.
	if !s.vault.Configured() {
		return nil, fmt.Errorf("cannot store gmail credential: %w", vault.ErrMissingKey)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	tokens, err := s.oauth.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		return nil, err
	}

	profileCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	accountEmail, err := s.profiles.Profile(profileCtx, tokens.AccessToken)
	cancel()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to read Gmail profile, address will be resolved later")
		accountEmail = ""
	}

	sealed, err := s.vault.Seal(tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal refresh token: %w", err)
	}

	cred := &model.UserCredential{
		UserID:                userID,
		EncryptedRefreshToken: sealed,
		AccountEmail:          accountEmail,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":       userID,
		"account_email": accountEmail,
	}).Info("Gmail account connected")

	now := time.Now()
	return &ConnectionStatus{Connected: true, AccountEmail: accountEmail, ConnectedAt: &now}, nil
}

// AccessToken returns a fresh access token for userID.
func (s *CredentialService) AccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrGmailNotConnected
		}
		return "", err
	}
	if cred.RevokedAt != nil {
		return "", fmt.Errorf("gmail access revoked at %s: %w", cred.RevokedAt.Format(time.RFC3339), oauth.ErrRefreshRevoked)
	}

	refreshToken, err := s.vault.Open(cred.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to open stored credential: %w", err)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	accessToken, err := s.oauth.Refresh(refreshCtx, refreshToken)
	if errors.Is(err, oauth.ErrRefreshRevoked) {
		if markErr := s.store.MarkCredentialRevoked(ctx, userID); markErr != nil {
			logrus.WithError(markErr).WithField("user_id", userID).Error("Failed to mark credential revoked")
		}
	}
	return accessToken, err
}

// Status reports whether userID has connected Gmail.
func (s *CredentialService) Status(ctx context.Context, userID string) (*ConnectionStatus, error) {
	cred, err := s.store.GetCredential(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &ConnectionStatus{Connected: false}, nil
	}
	if err != nil {
		return nil, err
	}
	connectedAt := cred.UpdatedAt
	return &ConnectionStatus{
		Connected:         cred.RevokedAt == nil,
		ReconnectRequired: cred.RevokedAt != nil,
		AccountEmail:      cred.AccountEmail,
		ConnectedAt:       &connectedAt,
	}, nil
}
