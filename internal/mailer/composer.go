// Package mailer builds raw RFC 5322 envelopes in the base64url form the
// Gmail send endpoint accepts.
//
// Header values are written as given. Callers must make sure subjects and
// addresses carry no CR or LF.
package mailer

import (
	"encoding/base64"
	"strings"
)

const crlf = "\r\n"

// ReplyOptions threads an outgoing message onto an existing conversation.
type ReplyOptions struct {
	From       string
	ThreadID   string
	InReplyTo  string
	References string
}

// ComposeNew builds a message that starts a new thread.
func ComposeNew(to, subject, body string) string {
	return encode([]string{
		"To: " + to,
		"Subject: " + subject,
	}, body)
}

// ComposeReply builds a message that the provider files under an existing
// thread. Message ids may be passed with or without angle brackets.
func ComposeReply(to, subject, body string, opts ReplyOptions) string {
	return encode([]string{
		"To: " + to,
		"From: " + opts.From,
		"Subject: " + subject,
		"Thread-Topic: " + subject,
		"Thread-Index: " + opts.ThreadID,
		"In-Reply-To: " + bracket(opts.InReplyTo),
		"References: " + bracket(opts.References),
	}, body)
}

// Decode reverses the transport encoding. It is used by tests and the
// operator tool to inspect what would be sent.
func Decode(raw string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encode(headers []string, body string) string {
	var sb strings.Builder
	for _, h := range headers {
		sb.WriteString(h)
		sb.WriteString(crlf)
	}
	sb.WriteString(crlf)
	sb.WriteString(body)
	return base64.RawURLEncoding.EncodeToString([]byte(sb.String()))
}

func bracket(id string) string {
	return "<" + strings.Trim(strings.TrimSpace(id), "<>") + ">"
}
