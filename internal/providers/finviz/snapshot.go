package finviz

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tiltlab/tilt/internal/contracts"
)

// FetchSnapshot scrapes the fundamentals snapshot table for symbol,
// stamped asOf. Finviz prints "-" for figures it does not track; those
// stay missing. Enterprise value and EBITDA are not published separately
// here, so both remain missing in the result.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string, asOf time.Time) (*contracts.FundamentalRecord, error) {
	params := url.Values{}
	params.Set("t", symbol)

	doc, err := c.fetchDocument(ctx, "/quote.ashx", params)
	if err != nil {
		return nil, fmt.Errorf("fetch quote page for %s: %w", symbol, err)
	}

	fields := parseSnapshotTable(doc)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no snapshot table found for %s", symbol)
	}

	record := &contracts.FundamentalRecord{
		Symbol:            symbol,
		Date:              asOf,
		ROE:               parsePercent(fields["ROE"]),
		EPS:               parseNumber(fields["EPS (ttm)"]),
		NetIncome:         parseAbbrev(fields["Income"]),
		PERatio:           parseNumber(fields["P/E"]),
		ProfitMargin:      parsePercent(fields["Profit Margin"]),
		MarketCap:         parseAbbrev(fields["Market Cap"]),
		SharesOutstanding: parseAbbrev(fields["Shs Outstand"]),
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"fields": len(fields),
	}).Debug("Fetched snapshot")
	return record, nil
}

// parseSnapshotTable flattens the label/value cell pairs of the snapshot
// table into a map.
func parseSnapshotTable(doc *goquery.Document) map[string]string {
	fields := make(map[string]string)

	doc.Find("table.snapshot-table2 tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		for j := 0; j+1 < cells.Length(); j += 2 {
			label := strings.TrimSpace(cells.Eq(j).Text())
			value := strings.TrimSpace(cells.Eq(j + 1).Text())
			if label != "" {
				fields[label] = value
			}
		}
	})

	return fields
}

// parseNumber parses a plain decimal; "-" and garbage stay missing.
func parseNumber(s string) contracts.Metric {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" {
		return contracts.MissingMetric()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return contracts.MissingMetric()
	}
	return contracts.MetricOf(v)
}

// parsePercent parses "23.45%" into the fraction 0.2345.
func parsePercent(s string) contracts.Metric {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return contracts.MissingMetric()
	}
	m := parseNumber(strings.TrimSuffix(s, "%"))
	if v, ok := m.Value(); ok {
		return contracts.MetricOf(v / 100)
	}
	return contracts.MissingMetric()
}

// parseAbbrev parses Finviz's abbreviated notionals: "2.69T", "110.54B",
// "99.80M", "15.2K".
func parseAbbrev(s string) contracts.Metric {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" {
		return contracts.MissingMetric()
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "T"):
		mult, s = 1e12, strings.TrimSuffix(s, "T")
	case strings.HasSuffix(s, "B"):
		mult, s = 1e9, strings.TrimSuffix(s, "B")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return contracts.MissingMetric()
	}
	return contracts.MetricOf(v * mult)
}
