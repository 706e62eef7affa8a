// Package auth identifies the calling user from a bearer token and signs
// the OAuth state parameter.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const stateAudience = "oauth-state"

var (
	// ErrUnauthenticated means the request carried no valid identity.
	ErrUnauthenticated = errors.New("user not authenticated")
	// ErrInvalidState means an OAuth state value was forged, altered or expired.
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrMissingSecret means no signing secret is configured.
	ErrMissingSecret = errors.New("jwt secret is not configured")
)

// Claims carries the user id in the standard subject claim.
type Claims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce,omitempty"`
}

// Verifier resolves bearer tokens to user ids.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// IssueToken signs an access token for userID valid for ttl.
func (v *Verifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

// UserID returns the user the token was issued to.
func (v *Verifier) UserID(tokenString string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}

	claims, err := v.parse(tokenString)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	for _, aud := range claims.Audience {
		if aud == stateAudience {
			return "", ErrUnauthenticated
		}
	}
	if claims.Subject == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

func (v *Verifier) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

// StateSigner produces the OAuth state value that carries the user id
// through the consent redirect.
type StateSigner struct {
	verifier *Verifier
	ttl      time.Duration
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{verifier: NewVerifier(secret), ttl: ttl}
}

// Sign returns a short-lived state for userID.
func (s *StateSigner) Sign(userID string) (string, error) {
	if len(s.verifier.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Nonce: uuid.NewString(),
	})
	return token.SignedString(s.verifier.secret)
}

// Verify returns the user id carried by state.
func (s *StateSigner) Verify(state string) (string, error) {
	if len(s.verifier.secret) == 0 {
		return "", ErrMissingSecret
	}
	claims, err := s.verifier.parse(state, jwt.WithAudience(stateAudience))
	if err != nil || claims.Subject == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}
