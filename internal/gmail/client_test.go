package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client())
}

func TestSend(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cmF3", body["raw"])
		assert.Equal(t, "thread-9", body["threadId"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg-1","threadId":"thread-9"}`))
	})

	res, err := client.Send(context.Background(), "access-1", "cmF3", "thread-9")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, "thread-9", res.ThreadID)
}

func TestSendOmitsEmptyThread(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["threadId"]
		assert.False(t, ok)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg-2","threadId":"new-thread"}`))
	})

	res, err := client.Send(context.Background(), "access-1", "cmF3", "")
	require.NoError(t, err)
	assert.Equal(t, "new-thread", res.ThreadID)
}

func TestSendDispatchFailureNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Invalid To header"}}`))
	})

	_, err := client.Send(context.Background(), "access-1", "cmF3", "")
	var failure *DispatchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, http.StatusBadRequest, failure.StatusCode)
	assert.Contains(t, failure.Body, "Invalid To header")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetThread(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/threads/thread-1", r.URL.Path)
		assert.Equal(t, "metadata", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "thread-1",
			"messages": [
				{"id": "m1", "snippet": "original", "internalDate": "1700000000000",
				 "payload": {"headers": [{"name": "From", "value": "Me <me@example.com>"}]}},
				{"id": "m2", "snippet": "thanks!", "internalDate": "1700000600000",
				 "payload": {"headers": [{"name": "from", "value": "Lead <lead@example.com>"}]}}
			]
		}`))
	})

	thread, err := client.GetThread(context.Background(), "access-1", "thread-1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "m2", thread.Messages[1].ID)
	assert.Equal(t, "Lead <lead@example.com>", thread.Messages[1].From)
	assert.Equal(t, "thanks!", thread.Messages[1].Snippet)
	assert.Equal(t, time.UnixMilli(1700000600000).UTC(), thread.Messages[1].InternalDate)
}

func TestGetThreadNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	})

	_, err := client.GetThread(context.Background(), "access-1", "gone")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestGetThreadServerErrorIsTransport(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetThread(context.Background(), "access-1", "t")
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/profile", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"emailAddress":"me@example.com","messagesTotal":10}`))
	})

	addr, err := client.Profile(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", addr)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 6; i++ {
		_, err := client.GetThread(context.Background(), "access-1", "t")
		require.Error(t, err)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestSenderAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"display name", "Jane Doe <Jane@Example.com>", "jane@example.com"},
		{"bare", "lead@example.com", "lead@example.com"},
		{"angle only", "<me@example.com>", "me@example.com"},
		{"unparseable", "  not an address ", "not an address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderAddress(tt.in))
		})
	}
}
