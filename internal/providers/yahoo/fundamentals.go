package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
)

// rawValue is Yahoo's formatted-number envelope; only the raw figure is
// kept. Absent fields decode to a nil Raw and stay missing downstream.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v rawValue) metric() contracts.Metric {
	return contracts.MetricFromPtr(v.Raw)
}

// summaryResponse mirrors the v10 quote-summary payload for the modules
// the fundamentals collector requests.
type summaryResponse struct {
	QuoteSummary struct {
		Result []summaryResult `json:"result"`
		Error  *apiError       `json:"error"`
	} `json:"quoteSummary"`
}

type summaryResult struct {
	FinancialData struct {
		ReturnOnEquity    rawValue `json:"returnOnEquity"`
		OperatingCashflow rawValue `json:"operatingCashflow"`
		EBITDA            rawValue `json:"ebitda"`
		ProfitMargins     rawValue `json:"profitMargins"`
	} `json:"financialData"`
	DefaultKeyStatistics struct {
		TrailingEPS       rawValue `json:"trailingEps"`
		EnterpriseValue   rawValue `json:"enterpriseValue"`
		NetIncomeToCommon rawValue `json:"netIncomeToCommon"`
		SharesOutstanding rawValue `json:"sharesOutstanding"`
	} `json:"defaultKeyStatistics"`
	SummaryDetail struct {
		TrailingPE rawValue `json:"trailingPE"`
		MarketCap  rawValue `json:"marketCap"`
	} `json:"summaryDetail"`
}

// FetchFundamentals fetches the current fundamentals snapshot for symbol,
// stamped asOf. Fields the vendor omits stay missing.
func (c *Client) FetchFundamentals(ctx context.Context, symbol string, asOf time.Time) (*contracts.FundamentalRecord, error) {
	params := url.Values{}
	params.Set("modules", "financialData,defaultKeyStatistics,summaryDetail")

	fullURL := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	var payload summaryResponse
	if err := c.fetchJSON(ctx, fullURL, &payload); err != nil {
		return nil, fmt.Errorf("fetch quote summary for %s: %w", symbol, err)
	}
	if payload.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("quote summary API error for %s: %w", symbol, payload.QuoteSummary.Error)
	}
	if len(payload.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("quote summary returned no result for %s", symbol)
	}

	result := payload.QuoteSummary.Result[0]
	record := &contracts.FundamentalRecord{
		Symbol:            symbol,
		Date:              asOf,
		ROE:               result.FinancialData.ReturnOnEquity.metric(),
		EPS:               result.DefaultKeyStatistics.TrailingEPS.metric(),
		NetIncome:         result.DefaultKeyStatistics.NetIncomeToCommon.metric(),
		OperatingCashFlow: result.FinancialData.OperatingCashflow.metric(),
		PERatio:           result.SummaryDetail.TrailingPE.metric(),
		EnterpriseValue:   result.DefaultKeyStatistics.EnterpriseValue.metric(),
		EBITDA:            result.FinancialData.EBITDA.metric(),
		ProfitMargin:      result.FinancialData.ProfitMargins.metric(),
		MarketCap:         result.SummaryDetail.MarketCap.metric(),
		SharesOutstanding: result.DefaultKeyStatistics.SharesOutstanding.metric(),
	}

	c.logger.WithField("symbol", symbol).Debug("Fetched fundamentals")
	return record, nil
}
