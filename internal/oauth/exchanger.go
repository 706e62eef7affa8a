// Package oauth exchanges Google authorization codes and refresh tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"cold-outreach-go/internal/config"
)

var (
	// ErrMissingRefreshToken means the provider answered the code exchange
	// without a refresh token. The user has to consent again with a forced
	// prompt; retrying the same code does not help.
	ErrMissingRefreshToken = errors.New("provider did not return a refresh token")
	// ErrRefreshRevoked means the provider rejected the stored refresh token.
	ErrRefreshRevoked = errors.New("refresh token was revoked or expired")
	// ErrMissingClientConfig means client id, secret or redirect URL is unset.
	ErrMissingClientConfig = errors.New("oauth client is not configured")
)

// TransportError wraps network failures and non-2xx responses from the
// token endpoint that are not a revoked grant.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("oauth %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Tokens is the result of an authorization code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Exchanger talks to the OAuth provider's authorization and token endpoints.
type Exchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewExchanger builds an exchanger from the Gmail configuration. Empty
// endpoint URLs fall back to Google's.
func NewExchanger(cfg config.GmailConfig, httpClient *http.Client) *Exchanger {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Exchanger{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
	}
}

func (e *Exchanger) checkConfig(needRedirect bool) error {
	if e.config.ClientID == "" || e.config.ClientSecret == "" {
		return ErrMissingClientConfig
	}
	if needRedirect && e.config.RedirectURL == "" {
		return ErrMissingClientConfig
	}
	return nil
}

// AuthorizationURL returns the consent URL. It always asks for offline
// access and forces the consent prompt so a refresh token is issued even
// for users who consented before.
func (e *Exchanger) AuthorizationURL(state string) (string, error) {
	if e.config.ClientID == "" || e.config.RedirectURL == "" {
		return "", ErrMissingClientConfig
	}
	return e.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for access and refresh tokens.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*Tokens, error) {
	if err := e.checkConfig(true); err != nil {
		return nil, err
	}

	token, err := e.config.Exchange(e.withClient(ctx), code)
	if err != nil {
		return nil, &TransportError{Op: "code exchange", Err: err}
	}
	if token.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	return &Tokens{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}, nil
}

// Refresh trades a stored refresh token for a fresh access token.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if err := e.checkConfig(false); err != nil {
		return "", err
	}

	src := e.config.TokenSource(e.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		if isRevoked(err) {
			return "", fmt.Errorf("%w: %v", ErrRefreshRevoked, err)
		}
		return "", &TransportError{Op: "token refresh", Err: err}
	}
	return token.AccessToken, nil
}

func (e *Exchanger) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

func isRevoked(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	return strings.Contains(string(retrieveErr.Body), "invalid_grant")
}
