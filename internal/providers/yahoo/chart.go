package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
)

// chartResponse mirrors the v8 chart payload. The quote arrays carry null
// for sessions without a print, hence the pointer elements.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Currency string `json:"currency"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// FetchDailyBars fetches daily OHLCV bars for symbol over [from, to],
// oldest first. Sessions without a close are dropped; bars without an
// adjusted close fall back to the raw close.
func (c *Client) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]contracts.Price, error) {
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.Unix(), 10))
	params.Set("interval", "1d")
	params.Set("events", "div,splits")

	fullURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	var payload chartResponse
	if err := c.fetchJSON(ctx, fullURL, &payload); err != nil {
		return nil, fmt.Errorf("fetch chart for %s: %w", symbol, err)
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error for %s: %w", symbol, payload.Chart.Error)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart API returned no result for %s", symbol)
	}

	prices := parseChartBars(symbol, payload.Chart.Result[0])

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bars":   len(prices),
	}).Debug("Fetched daily bars")
	return prices, nil
}

// parseChartBars flattens the column-oriented chart result into bars.
func parseChartBars(symbol string, result chartResult) []contracts.Price {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quote := result.Indicators.Quote[0]

	var adjusted []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjusted = result.Indicators.AdjClose[0].AdjClose
	}

	at := func(vals []*float64, i int) float64 {
		if i >= len(vals) || vals[i] == nil {
			return 0
		}
		return *vals[i]
	}

	prices := make([]contracts.Price, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePrice := at(quote.Close, i)
		if closePrice <= 0 {
			continue
		}

		adjClose := at(adjusted, i)
		if adjClose <= 0 {
			adjClose = closePrice
		}

		var volume int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}

		day := time.Unix(ts, 0).UTC()
		prices = append(prices, contracts.Price{
			Symbol:   symbol,
			Date:     time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Open:     at(quote.Open, i),
			High:     at(quote.High, i),
			Low:      at(quote.Low, i),
			Close:    closePrice,
			AdjClose: adjClose,
			Volume:   volume,
		})
	}
	return prices
}
