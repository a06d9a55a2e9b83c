package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/httputil"
	"github.com/tiltlab/tilt/pkg/logger"
)

// constituentsPath is the list page for the S&P 500. The constituents
// table carries symbol, company name, and GICS sector/sub-industry.
const constituentsPath = "/wiki/List_of_S%26P_500_companies"

// Client scrapes index constituent lists.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	userAgent  string
}

// NewClient creates a Wikipedia client.
func NewClient(cfg config.WikipediaConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", "wikipedia"),
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
	}
}

// FetchConstituents scrapes the current S&P 500 membership. Symbols are
// normalized to dash share-class notation (BRK.B -> BRK-B) to match the
// price vendor's tickers.
func (c *Client) FetchConstituents(ctx context.Context) ([]contracts.Security, error) {
	fullURL := c.baseURL + constituentsPath

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

	securities := parseConstituentsTable(doc)
	if len(securities) == 0 {
		return nil, fmt.Errorf("no constituents table found")
	}

	c.logger.WithField("count", len(securities)).Debug("Fetched constituents")
	return securities, nil
}

// parseConstituentsTable reads the #constituents table rows. Column
// order: symbol, company, GICS sector, GICS sub-industry.
func parseConstituentsTable(doc *goquery.Document) []contracts.Security {
	var securities []contracts.Security

	doc.Find("table#constituents tbody tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return // header row
		}

		symbol := strings.TrimSpace(cells.Eq(0).Text())
		if symbol == "" {
			return
		}

		securities = append(securities, contracts.Security{
			Symbol:   NormalizeSymbol(symbol),
			Name:     strings.TrimSpace(cells.Eq(1).Text()),
			Sector:   strings.TrimSpace(cells.Eq(2).Text()),
			Industry: strings.TrimSpace(cells.Eq(3).Text()),
			Active:   true,
		})
	})

	return securities
}

// NormalizeSymbol converts dot share-class notation to the dash form the
// price vendor uses.
func NormalizeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.TrimSpace(symbol), ".", "-")
}
