package pushover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/infra"
)

const DefaultBaseURL = "https://api.pushover.net/1"

// Client sends link-fault notifications. With no token or user key it is
// a no-op.
type Client struct {
	token      string
	userKey    string
	title      string
	baseURL    string
	httpClient *http.Client
	retry      infra.RetryConfig
}

func NewClient(token, userKey string) *Client {
	return NewClientWithURL(token, userKey, DefaultBaseURL)
}

func NewClientWithURL(token, userKey, baseURL string) *Client {
	return &Client{
		token:      token,
		userKey:    userKey,
		title:      "RoboBuddy",
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      infra.DefaultRetryConfig(),
	}
}

func (c *Client) Enabled() bool {
	return c.token != "" && c.userKey != ""
}

func (c *Client) Notify(ctx context.Context, message string) error {
	if !c.Enabled() {
		return nil
	}

	data := url.Values{}
	data.Set("token", c.token)
	data.Set("user", c.userKey)
	data.Set("message", message)
	data.Set("title", c.title)
	body := data.Encode()

	return infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			c.baseURL+"/messages.json",
			strings.NewReader(body),
		)
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending notification: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			pushErr := fmt.Errorf("pushover error: %s", resp.Status)
			if infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return pushErr
			}
			return infra.Permanent(pushErr)
		}
		return nil
	})
}

var _ application.Notifier = (*Client)(nil)
