package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
	"robobuddy/internal/infra"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/"

// Summarizer condenses a finished conversation through generateContent.
// A client is built per call because the credential can change between
// sessions.
type Summarizer struct {
	credentials application.CredentialProvider
	baseURL     string
	model       string
	timeout     time.Duration
	retry       infra.RetryConfig
}

func NewSummarizer(credentials application.CredentialProvider, model string) *Summarizer {
	return NewSummarizerWithURL(credentials, model, DefaultBaseURL)
}

func NewSummarizerWithURL(credentials application.CredentialProvider, model, baseURL string) *Summarizer {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Summarizer{
		credentials: credentials,
		baseURL:     baseURL,
		model:       strings.TrimPrefix(model, "models/"),
		timeout:     30 * time.Second,
		retry:       infra.DefaultRetryConfig(),
	}
}

func (s *Summarizer) Summarize(ctx context.Context, previous string, transcript []domain.TranscriptEntry) (string, error) {
	apiKey, err := s.credentials.Credential(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving credential: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: s.baseURL,
			Timeout: &s.timeout,
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating genai client: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(application.FormatConversation(previous, transcript), genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(application.SummaryInstruction, genai.RoleUser),
		MaxOutputTokens:   200,
		Temperature:       genai.Ptr[float32](0.3),
	}

	var resp *genai.GenerateContentResponse
	retryErr := infra.WithRetry(ctx, s.retry, func() error {
		r, err := client.Models.GenerateContent(ctx, s.model, contents, cfg)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) {
				wrapped := fmt.Errorf("gemini API error %d: %s", apiErr.Code, apiErr.Message)
				if infra.IsRetryableHTTPStatus(apiErr.Code) {
					return wrapped
				}
				return infra.Permanent(wrapped)
			}
			return fmt.Errorf("generating summary: %w", err)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return "", retryErr
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", fmt.Errorf("empty summary from gemini")
	}
	return summary, nil
}
