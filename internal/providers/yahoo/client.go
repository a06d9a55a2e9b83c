package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/httputil"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Client talks to the Yahoo Finance JSON endpoints: the v8 chart API for
// daily bars and the v10 quote-summary API for fundamentals. All calls to
// these endpoints go through this client.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	userAgent  string
}

// NewClient creates a Yahoo Finance client.
func NewClient(cfg config.YahooConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", "yahoo"),
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
	}
}

// apiError is the error object Yahoo embeds in an otherwise-200 payload.
type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// fetchJSON fetches fullURL and decodes the body into dest.
func (c *Client) fetchJSON(ctx context.Context, fullURL string, dest interface{}) error {
	resp, err := c.httpClient.GetWithHeaders(ctx, fullURL, map[string]string{
		"User-Agent": c.userAgent,
		"Accept":     "application/json",
	})
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body failed: %w", err)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
