package finviz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/httputil"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Client scrapes Finviz quote pages. Finviz serves a compact fundamentals
// snapshot per symbol; it backfills fields the primary vendor omits.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	userAgent  string
}

// NewClient creates a Finviz client.
func NewClient(cfg config.FinvizConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", "finviz"),
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
	}
}

// fetchDocument fetches a page and parses it into a goquery document.
func (c *Client) fetchDocument(ctx context.Context, path string, params url.Values) (*goquery.Document, error) {
	fullURL := fmt.Sprintf("%s%s", c.baseURL, path)
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	resp, err := c.httpClient.GetWithHeaders(ctx, fullURL, map[string]string{
		"User-Agent": c.userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML failed: %w", err)
	}
	return doc, nil
}
