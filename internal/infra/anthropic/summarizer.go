package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
	"robobuddy/internal/infra"
)

const DefaultBaseURL = "https://api.anthropic.com/"

// Summarizer refreshes the operator memory through the Messages API. It is
// the alternative to the Gemini summarizer for setups with a Claude key.
type Summarizer struct {
	apiKey string
	client anthropic.Client
	model  string
	retry  infra.RetryConfig
}

func NewSummarizer(apiKey, model string) *Summarizer {
	return NewSummarizerWithURL(apiKey, model, DefaultBaseURL)
}

func NewSummarizerWithURL(apiKey, model, baseURL string) *Summarizer {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	// Retries go through infra.WithRetry, so the SDK's own are off.
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(30*time.Second),
	)
	return &Summarizer{
		apiKey: apiKey,
		client: client,
		model:  model,
		retry:  infra.DefaultRetryConfig(),
	}
}

func (s *Summarizer) Summarize(ctx context.Context, previous string, transcript []domain.TranscriptEntry) (string, error) {
	if s.apiKey == "" {
		return "", errors.New("anthropic api key not configured")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: application.SummaryInstruction}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(application.FormatConversation(previous, transcript))),
		},
	}

	var msg *anthropic.Message
	retryErr := infra.WithRetry(ctx, s.retry, func() error {
		m, err := s.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				wrapped := fmt.Errorf("claude API error %d: %w", apiErr.StatusCode, err)
				if infra.IsRetryableHTTPStatus(apiErr.StatusCode) {
					return wrapped
				}
				return infra.Permanent(wrapped)
			}
			return fmt.Errorf("sending request: %w", err)
		}
		msg = m
		return nil
	})
	if retryErr != nil {
		return "", retryErr
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(text.String())
	if summary == "" {
		return "", fmt.Errorf("empty response from claude")
	}
	return summary, nil
}

var _ application.Summarizer = (*Summarizer)(nil)
