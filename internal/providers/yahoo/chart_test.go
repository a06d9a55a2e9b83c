package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/httputil"
	"github.com/tiltlab/tilt/pkg/logger"
)

func testClient(baseURL string) *Client {
	httpClient := httputil.New(&config.Config{}, logger.NewNop()).DisableRetry()
	return NewClient(config.YahooConfig{
		BaseURL:   baseURL,
		UserAgent: "test-agent",
	}, httpClient, logger.NewNop())
}

// Three sessions; the middle one is a null (halted) print that must be
// dropped. 2021-01-04, 05, 06 UTC midnights.
const chartFixture = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "currency": "USD"},
      "timestamp": [1609718400, 1609804800, 1609891200],
      "indicators": {
        "quote": [{
          "open":   [133.52, null, 127.72],
          "high":   [133.61, null, 131.05],
          "low":    [126.76, null, 126.38],
          "close":  [129.41, null, 130.92],
          "volume": [143301900, null, 97664900]
        }],
        "adjclose": [{"adjclose": [126.83, null, 128.31]}]
      }
    }],
    "error": null
  }
}`

func TestFetchDailyBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte(chartFixture))
	}))
	defer server.Close()

	client := testClient(server.URL)
	from := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 1, 7, 0, 0, 0, 0, time.UTC)

	bars, err := client.FetchDailyBars(context.Background(), "AAPL", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 2, "null session dropped")

	first := bars[0]
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), first.Date)
	assert.InDelta(t, 133.52, first.Open, 1e-9)
	assert.InDelta(t, 129.41, first.Close, 1e-9)
	assert.InDelta(t, 126.83, first.AdjClose, 1e-9)
	assert.Equal(t, int64(143301900), first.Volume)

	second := bars[1]
	assert.Equal(t, time.Date(2021, 1, 6, 0, 0, 0, 0, time.UTC), second.Date)
	assert.InDelta(t, 128.31, second.AdjClose, 1e-9)
}

func TestFetchDailyBarsNoAdjClose(t *testing.T) {
	// Some symbols come back without an adjclose block; the raw close has
	// to stand in so return math still works.
	fixture := `{"chart":{"result":[{
		"meta":{"symbol":"TEST"},
		"timestamp":[1609718400],
		"indicators":{"quote":[{"open":[10],"high":[11],"low":[9],"close":[10.5],"volume":[1000]}]}
	}],"error":null}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture))
	}))
	defer server.Close()

	bars, err := testClient(server.URL).FetchDailyBars(context.Background(), "TEST",
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 10.5, bars[0].AdjClose, 1e-9)
}

func TestFetchDailyBarsAPIError(t *testing.T) {
	fixture := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture))
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchDailyBars(context.Background(), "GONE",
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 7, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delisted")
}

func TestFetchDailyBarsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchDailyBars(context.Background(), "AAPL",
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 7, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code")
}
