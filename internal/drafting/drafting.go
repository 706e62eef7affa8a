// Package drafting asks a chat-completions model to write outreach emails.
package drafting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"cold-outreach-go/internal/config"
)

const (
	defaultSubject = "Cold Outreach"
	systemPrompt   = "You are an expert cold outreach specialist who creates compelling, personalized emails."
)

// ErrMissingAPIKey means no drafting API key is configured.
var ErrMissingAPIKey = errors.New("drafting api key is not configured")

// PromptContext is what the model writes from. ThreadContext and UserNotes
// together switch to a follow-up draft.
type PromptContext struct {
	CampaignGoal  string
	Audience      string
	ThreadContext string
	UserNotes     string
}

func (p PromptContext) isFollowUp() bool {
	return p.ThreadContext != "" && p.UserNotes != ""
}

// Draft is a generated email.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Composer writes a draft for a prompt context.
type Composer interface {
	Compose(ctx context.Context, p PromptContext) (*Draft, error)
}

// APIError is a non-2xx answer from the completions endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drafting api error: status %d: %s", e.StatusCode, e.Body)
}

// OpenAIComposer calls an OpenAI-compatible chat completions endpoint.
type OpenAIComposer struct {
	cfg    config.DraftingConfig
	client *openai.Client
}

func NewOpenAIComposer(cfg config.DraftingConfig, httpClient *http.Client) *OpenAIComposer {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httpClient

	return &OpenAIComposer{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (c *OpenAIComposer) Compose(ctx context.Context, p PromptContext) (*Draft, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(p)},
		},
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.New("no content generated")
	}

	return ParseDraft(resp.Choices[0].Message.Content), nil
}

// wrapAPIError turns non-2xx answers into *APIError so callers need not
// know the client library.
func wrapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("failed to call drafting api: %w", err)
}

// BuildPrompt renders the cold email or follow-up prompt.
func BuildPrompt(p PromptContext) string {
	if p.isFollowUp() {
		return fmt.Sprintf(`You are an expert cold outreach specialist. A reply has been received for a cold email. Your task is to draft a follow-up email.

Original Campaign Goal: %s
Original Target Audience: %s

Here is the email thread so far:
---
%s
---

Here are the user's notes on the reply:
---
%s
---

Requirements:
- Acknowledge the user's notes and the context of the reply.
- Align the follow-up with the original campaign goal.
- Keep it concise, professional, and under 150 words.
- Include a clear call-to-action.

Generate a follow-up email that includes:
1. Subject line (it should be a reply, so likely starting with "Re:")
2. Email body

Format your response as JSON with "subject" and "body" fields.`, p.CampaignGoal, p.Audience, p.ThreadContext, p.UserNotes)
	}

	return fmt.Sprintf(`You are an expert cold outreach specialist. Create a compelling, personalized cold email based on the following information:

Campaign Goal: %s
Target Audience: %s

Requirements:
- Keep it under 150 words
- Make it personal and relevant to the audience
- Include a clear call-to-action
- Be professional but conversational
- Avoid generic templates
- Focus on value proposition

Generate a cold email that includes:
1. Subject line
2. Email body

Format your response as JSON with "subject" and "body" fields.`, p.CampaignGoal, p.Audience)
}

var (
	codeFence    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	subjectLabel = regexp.MustCompile(`(?i)^[\s*#_\d.]*subject(\s+line)?[\s*_]*:?[\s*_]*`)
	bodyLabel    = regexp.MustCompile(`(?i)^[\s*#_\d.]*(email\s+)?body[\s*_]*:[\s*_]*`)
)

// ParseDraft reads the model output. JSON is preferred; otherwise a
// "Subject:" line is looked for and the remaining text is the body.
func ParseDraft(content string) *Draft {
	content = strings.TrimSpace(content)
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	var d Draft
	if err := json.Unmarshal([]byte(content), &d); err == nil && (d.Subject != "" || d.Body != "") {
		return &d
	}

	d = Draft{Subject: defaultSubject}
	var body []string
	subjectFound := false
	for _, line := range strings.Split(content, "\n") {
		if !subjectFound && strings.Contains(strings.ToLower(line), "subject") {
			subjectFound = true
			if s := strings.TrimSpace(subjectLabel.ReplaceAllString(line, "")); s != "" {
				d.Subject = s
			}
			continue
		}
		if len(body) == 0 {
			if strings.TrimSpace(line) == "" {
				continue
			}
			line = bodyLabel.ReplaceAllString(line, "")
		}
		body = append(body, line)
	}
	d.Body = strings.TrimSpace(strings.Join(body, "\n"))
	return &d
}
