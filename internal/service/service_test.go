package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cold-outreach-go/internal/auth"
	"cold-outreach-go/internal/drafting"
	"cold-outreach-go/internal/gmail"
	"cold-outreach-go/internal/mailer"
	"cold-outreach-go/internal/metrics"
	"cold-outreach-go/internal/model"
	"cold-outreach-go/internal/oauth"
	"cold-outreach-go/internal/repository"
	"cold-outreach-go/internal/vault"
)

type memCredentials struct {
	mu    sync.Mutex
	creds map[string]model.UserCredential
	err   error
}

func (m *memCredentials) UpsertCredential(ctx context.Context, cred *model.UserCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.creds == nil {
		m.creds = map[string]model.UserCredential{}
	}
	c := *cred
	c.UpdatedAt = time.Now()
	m.creds[cred.UserID] = c
	return nil
}

func (m *memCredentials) MarkCredentialRevoked(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[userID]; ok && c.RevokedAt == nil {
		now := time.Now()
		c.RevokedAt = &now
		m.creds[userID] = c
	}
	return nil
}

func (m *memCredentials) GetCredential(ctx context.Context, userID string) (*model.UserCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

type stubExchanger struct {
	tokens      *oauth.Tokens
	exchangeErr error
	refreshErr  error
	exchanged   int
	refreshed   []string
}

func (s *stubExchanger) AuthorizationURL(state string) (string, error) {
	return "https://accounts.example.com/auth?state=" + state, nil
}

func (s *stubExchanger) Exchange(ctx context.Context, code string) (*oauth.Tokens, error) {
	s.exchanged++
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.tokens, nil
}

func (s *stubExchanger) Refresh(ctx context.Context, refreshToken string) (string, error) {
	s.refreshed = append(s.refreshed, refreshToken)
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return "access-for-" + refreshToken, nil
}

type stubProfile struct {
	addr string
	err  error
}

func (s stubProfile) Profile(ctx context.Context, accessToken string) (string, error) {
	return s.addr, s.err
}

func newCredentialService(store *memCredentials, ex *stubExchanger, profile stubProfile, key string) *CredentialService {
	return NewCredentialService(store, ex, profile, vault.New(key), auth.NewStateSigner("jwt-secret", time.Minute), time.Second)
}

func TestConnectStoresSealedToken(t *testing.T) {
	store := &memCredentials{}
	ex := &stubExchanger{tokens: &oauth.Tokens{AccessToken: "at", RefreshToken: "rt-secret"}}
	svc := newCredentialService(store, ex, stubProfile{addr: "me@example.com"}, "encryption-key")

	status, err := svc.Connect(context.Background(), "user-1", "code")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "me@example.com", status.AccountEmail)

	cred := store.creds["user-1"]
	assert.NotContains(t, cred.EncryptedRefreshToken, "rt-secret")
	plain, err := vault.New("encryption-key").Open(cred.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-secret", plain)

	token, err := svc.AccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-for-rt-secret", token)
}

func TestConnectToleratesProfileFailure(t *testing.T) {
	store := &memCredentials{}
	ex := &stubExchanger{tokens: &oauth.Tokens{AccessToken: "at", RefreshToken: "rt"}}
	svc := newCredentialService(store, ex, stubProfile{err: errors.New("boom")}, "encryption-key")

	status, err := svc.Connect(context.Background(), "user-1", "code")
	require.NoError(t, err)
	assert.Empty(t, status.AccountEmail)
	assert.Contains(t, store.creds, "user-1")
}

func TestConnectErrors(t *testing.T) {
	t.Run("missing refresh token", func(t *testing.T) {
		ex := &stubExchanger{exchangeErr: oauth.ErrMissingRefreshToken}
		_, err := newCredentialService(&memCredentials{}, ex, stubProfile{}, "k").Connect(context.Background(), "u", "code")
		assert.ErrorIs(t, err, oauth.ErrMissingRefreshToken)
	})

	t.Run("missing key checked before exchange", func(t *testing.T) {
		ex := &stubExchanger{tokens: &oauth.Tokens{RefreshToken: "rt"}}
		_, err := newCredentialService(&memCredentials{}, ex, stubProfile{}, "").Connect(context.Background(), "u", "code")
		assert.ErrorIs(t, err, vault.ErrMissingKey)
		assert.Equal(t, 0, ex.exchanged)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := newCredentialService(&memCredentials{}, &stubExchanger{}, stubProfile{}, "k").Connect(context.Background(), "u", "")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestConnectWithState(t *testing.T) {
	store := &memCredentials{}
	ex := &stubExchanger{tokens: &oauth.Tokens{AccessToken: "at", RefreshToken: "rt"}}
	svc := newCredentialService(store, ex, stubProfile{addr: "me@example.com"}, "k")

	url, err := svc.AuthorizationURL("user-1")
	require.NoError(t, err)
	state := url[len("https://accounts.example.com/auth?state="):]

	_, err = svc.ConnectWithState(context.Background(), state, "code", "user-2")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.ConnectWithState(context.Background(), "forged", "code", "")
	assert.ErrorIs(t, err, auth.ErrInvalidState)

	_, err = svc.ConnectWithState(context.Background(), state, "code", "")
	require.NoError(t, err)
	assert.Contains(t, store.creds, "user-1")
}

func TestAccessTokenErrors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		_, err := newCredentialService(&memCredentials{}, &stubExchanger{}, stubProfile{}, "k").AccessToken(context.Background(), "u")
		assert.ErrorIs(t, err, ErrGmailNotConnected)
	})

	t.Run("wrong key", func(t *testing.T) {
		blob, err := vault.New("old-key").Seal("rt")
		require.NoError(t, err)
		store := &memCredentials{creds: map[string]model.UserCredential{"u": {UserID: "u", EncryptedRefreshToken: blob}}}
		_, err = newCredentialService(store, &stubExchanger{}, stubProfile{}, "new-key").AccessToken(context.Background(), "u")
		assert.ErrorIs(t, err, vault.ErrDecryptionFailure)
	})

	t.Run("revoked", func(t *testing.T) {
		blob, err := vault.New("k").Seal("rt")
		require.NoError(t, err)
		store := &memCredentials{creds: map[string]model.UserCredential{"u": {UserID: "u", EncryptedRefreshToken: blob}}}
		ex := &stubExchanger{refreshErr: oauth.ErrRefreshRevoked}
		svc := newCredentialService(store, ex, stubProfile{}, "k")

		_, err = svc.AccessToken(context.Background(), "u")
		assert.ErrorIs(t, err, oauth.ErrRefreshRevoked)
		assert.NotNil(t, store.creds["u"].RevokedAt)

		_, err = svc.AccessToken(context.Background(), "u")
		assert.ErrorIs(t, err, oauth.ErrRefreshRevoked)
		assert.Len(t, ex.refreshed, 1)
	})
}

func TestReconnectClearsRevocation(t *testing.T) {
	store := &memCredentials{}
	ex := &stubExchanger{tokens: &oauth.Tokens{AccessToken: "at", RefreshToken: "rt"}}
	svc := newCredentialService(store, ex, stubProfile{addr: "me@example.com"}, "k")

	_, err := svc.Connect(context.Background(), "u", "code")
	require.NoError(t, err)
	require.NoError(t, store.MarkCredentialRevoked(context.Background(), "u"))

	status, err := svc.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.True(t, status.ReconnectRequired)

	_, err = svc.Connect(context.Background(), "u", "code-2")
	require.NoError(t, err)

	status, err = svc.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.False(t, status.ReconnectRequired)

	token, err := svc.AccessToken(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "access-for-rt", token)
}

func TestStatus(t *testing.T) {
	store := &memCredentials{}
	svc := newCredentialService(store, &stubExchanger{}, stubProfile{}, "k")

	status, err := svc.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, status.Connected)

	require.NoError(t, store.UpsertCredential(context.Background(), &model.UserCredential{UserID: "u", EncryptedRefreshToken: "x", AccountEmail: "me@example.com"}))
	status, err = svc.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "me@example.com", status.AccountEmail)
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(ctx context.Context, userID string) (string, error) {
	return s.token, s.err
}

type recordingSender struct {
	raw      string
	threadID string
	calls    int
	err      error
}

func (r *recordingSender) Send(ctx context.Context, accessToken, raw, threadID string) (*gmail.SendResult, error) {
	r.calls++
	r.raw = raw
	r.threadID = threadID
	if r.err != nil {
		return nil, r.err
	}
	thread := threadID
	if thread == "" {
		thread = "new-thread"
	}
	return &gmail.SendResult{MessageID: "gmail-msg-1", ThreadID: thread}, nil
}

type memMessages struct {
	saved []model.OutboundMessage
	err   error
}

func (m *memMessages) CreateOutboundMessage(ctx context.Context, msg *model.OutboundMessage) error {
	if m.err != nil {
		return m.err
	}
	msg.ID = uint(len(m.saved) + 1)
	m.saved = append(m.saved, *msg)
	return nil
}

func TestSendNewEmail(t *testing.T) {
	sender := &recordingSender{}
	store := &memMessages{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := NewDispatchService(staticTokens{token: "at"}, sender, store, m)

	res, err := svc.Send(context.Background(), "user-1", SendRequest{
		CampaignID:     "c1",
		RecipientEmail: "lead@acme.io",
		Subject:        "Hello",
		Body:           "Hi there",
	})
	require.NoError(t, err)
	assert.Equal(t, "gmail-msg-1", res.MessageID)
	assert.Equal(t, "new-thread", res.ThreadID)
	assert.Empty(t, sender.threadID)

	decoded, err := mailer.Decode(sender.raw)
	require.NoError(t, err)
	assert.Equal(t, "To: lead@acme.io\r\nSubject: Hello\r\n\r\nHi there", decoded)

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, model.EmailStatusSent, saved.Status)
	assert.Equal(t, "new-thread", saved.ThreadID)
	assert.Equal(t, "Hi there", saved.OriginalDraft)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent))
}

func TestSendReplyUsesThread(t *testing.T) {
	sender := &recordingSender{}
	svc := NewDispatchService(staticTokens{token: "at"}, sender, &memMessages{}, metrics.NewMetrics(prometheus.NewRegistry()))

	_, err := svc.Send(context.Background(), "user-1", SendRequest{
		RecipientEmail: "lead@acme.io",
		Subject:        "Re: Hello",
		Body:           "Following up",
		ThreadID:       "thread-7",
		InReplyTo:      "abc@mail.gmail.com",
		References:     "abc@mail.gmail.com",
		FromAddress:    "me@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "thread-7", sender.threadID)

	decoded, err := mailer.Decode(sender.raw)
	require.NoError(t, err)
	assert.Contains(t, decoded, "In-Reply-To: <abc@mail.gmail.com>\r\n")
	assert.Contains(t, decoded, "From: me@example.com\r\n")
}

func TestSendValidation(t *testing.T) {
	sender := &recordingSender{}
	svc := NewDispatchService(staticTokens{token: "at"}, sender, &memMessages{}, metrics.NewMetrics(prometheus.NewRegistry()))

	_, err := svc.Send(context.Background(), "user-1", SendRequest{RecipientEmail: "lead@acme.io", Subject: "s"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, sender.calls)
}

func TestSendFailures(t *testing.T) {
	req := SendRequest{RecipientEmail: "lead@acme.io", Subject: "s", Body: "b"}

	t.Run("not connected", func(t *testing.T) {
		sender := &recordingSender{}
		svc := NewDispatchService(staticTokens{err: ErrGmailNotConnected}, sender, &memMessages{}, metrics.NewMetrics(prometheus.NewRegistry()))
		_, err := svc.Send(context.Background(), "u", req)
		assert.ErrorIs(t, err, ErrGmailNotConnected)
		assert.Equal(t, 0, sender.calls)
	})

	t.Run("dispatch failure", func(t *testing.T) {
		sender := &recordingSender{err: &gmail.DispatchFailure{StatusCode: 400, Body: "bad"}}
		store := &memMessages{}
		m := metrics.NewMetrics(prometheus.NewRegistry())
		svc := NewDispatchService(staticTokens{token: "at"}, sender, store, m)

		_, err := svc.Send(context.Background(), "u", req)
		var failure *gmail.DispatchFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 1, sender.calls)
		assert.Empty(t, store.saved)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures))
	})

	t.Run("unrecorded delivery", func(t *testing.T) {
		sender := &recordingSender{}
		m := metrics.NewMetrics(prometheus.NewRegistry())
		svc := NewDispatchService(staticTokens{token: "at"}, sender, &memMessages{err: errors.New("db down")}, m)

		_, err := svc.Send(context.Background(), "u", req)
		var unrecorded *UnrecordedDeliveryError
		require.ErrorAs(t, err, &unrecorded)
		assert.Equal(t, "gmail-msg-1", unrecorded.MessageID)
		assert.Equal(t, "new-thread", unrecorded.ThreadID)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.UnrecordedDeliveries))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.SendFailures))
	})
}

type stubComposer struct {
	got drafting.PromptContext
}

func (s *stubComposer) Compose(ctx context.Context, p drafting.PromptContext) (*drafting.Draft, error) {
	s.got = p
	return &drafting.Draft{Subject: "S", Body: "B"}, nil
}

func TestDraftService(t *testing.T) {
	composer := &stubComposer{}
	svc := NewDraftService(composer)

	_, err := svc.Generate(context.Background(), "u", DraftRequest{CampaignGoal: "goal"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	draft, err := svc.Generate(context.Background(), "u", DraftRequest{CampaignGoal: "goal", Audience: "CFOs", UserNotes: "n", ThreadContext: "t"})
	require.NoError(t, err)
	assert.Equal(t, "S", draft.Subject)
	assert.Equal(t, "t", composer.got.ThreadContext)
}
