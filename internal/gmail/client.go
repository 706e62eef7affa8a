// Package gmail wraps the Gmail REST API calls used for sending and for
// reply reconciliation. Every call takes the access token to use, so one
// Client serves all users.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const me = "me"

// ErrThreadNotFound is returned when the stored thread id no longer exists.
var ErrThreadNotFound = errors.New("gmail thread not found")

// DispatchFailure is a non-success answer from the send endpoint. Sends are
// never retried, so the status and body are kept for the caller to report.
type DispatchFailure struct {
	StatusCode int
	Body       string
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("gmail send failed with status %d: %s", e.StatusCode, e.Body)
}

// TransportError covers network failures, timeouts, an open circuit and
// non-2xx answers from read endpoints.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gmail %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendResult identifies a message accepted by the provider.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// ThreadMessage is one message of a thread, in thread order.
type ThreadMessage struct {
	ID           string
	From         string
	Snippet      string
	InternalDate time.Time
}

// Thread is a provider conversation. Messages[0] is the message that
// started it.
type Thread struct {
	ID       string
	Messages []ThreadMessage
}

// Client calls the Gmail API on behalf of any user.
type Client struct {
	endpoint string
	base     http.RoundTripper
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker
}

// NewClient creates a client. An empty endpoint uses the public API.
// httpClient may be nil.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	base := http.DefaultTransport
	var timeout time.Duration
	if httpClient != nil {
		if httpClient.Transport != nil {
			base = httpClient.Transport
		}
		timeout = httpClient.Timeout
	}

	settings := gobreaker.Settings{
		Name:        "gmail",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerSide(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &Client{
		endpoint: endpoint,
		base:     base,
		timeout:  timeout,
		cb:       gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmailapi.Service, error) {
	hc := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// Send posts a raw base64url message. A non-empty threadID appends the
// message to that thread.
func (c *Client) Send(ctx context.Context, accessToken, raw, threadID string) (*SendResult, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg := &gmailapi.Message{Raw: raw}
	if threadID != "" {
		msg.ThreadId = threadID
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Body
			if body == "" {
				body = apiErr.Message
			}
			return nil, &DispatchFailure{StatusCode: apiErr.Code, Body: body}
		}
		return nil, &TransportError{Op: "send", Err: err}
	}

	sent := out.(*gmailapi.Message)
	return &SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// GetThread fetches a thread with the From header of every message.
func (c *Client) GetThread(ctx context.Context, accessToken, threadID string) (*Thread, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return svc.Users.Threads.Get(me, threadID).
			Format("metadata").
			MetadataHeaders("From").
			Context(ctx).
			Do()
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, &TransportError{Op: "get thread", Err: err}
	}

	return convertThread(out.(*gmailapi.Thread)), nil
}

// Profile returns the address of the mailbox the token belongs to.
func (c *Client) Profile(ctx context.Context, accessToken string) (string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return svc.Users.GetProfile(me).Context(ctx).Do()
	})
	if err != nil {
		return "", &TransportError{Op: "get profile", Err: err}
	}
	return out.(*gmailapi.Profile).EmailAddress, nil
}

func convertThread(t *gmailapi.Thread) *Thread {
	thread := &Thread{ID: t.Id, Messages: make([]ThreadMessage, 0, len(t.Messages))}
	for _, m := range t.Messages {
		tm := ThreadMessage{
			ID:           m.Id,
			Snippet:      m.Snippet,
			InternalDate: time.UnixMilli(m.InternalDate).UTC(),
		}
		if m.Payload != nil {
			for _, h := range m.Payload.Headers {
				if strings.EqualFold(h.Name, "From") {
					tm.From = h.Value
					break
				}
			}
		}
		thread.Messages = append(thread.Messages, tm)
	}
	return thread
}

// SenderAddress extracts the bare, lower-cased address from a From header.
// Headers that do not parse are compared as trimmed text.
func SenderAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil || addr.Address == "" {
		return strings.ToLower(strings.Trim(strings.TrimSpace(from), "<>"))
	}
	return strings.ToLower(addr.Address)
}

func isServerSide(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	return true
}
