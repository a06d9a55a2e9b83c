package wikipedia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/httputil"
	"github.com/tiltlab/tilt/pkg/logger"
)

const listPage = `<html><body>
<table id="constituents" class="wikitable">
<tbody>
<tr><th>Symbol</th><th>Security</th><th>GICS Sector</th><th>GICS Sub-Industry</th><th>HQ</th></tr>
<tr>
  <td><a href="/AAPL">AAPL</a></td>
  <td><a href="/wiki/Apple_Inc.">Apple Inc.</a></td>
  <td>Information Technology</td>
  <td>Technology Hardware, Storage &amp; Peripherals</td>
  <td>Cupertino, California</td>
</tr>
<tr>
  <td>BRK.B</td>
  <td>Berkshire Hathaway</td>
  <td>Financials</td>
  <td>Multi-Sector Holdings</td>
  <td>Omaha, Nebraska</td>
</tr>
</tbody>
</table>
<table id="changes"><tbody><tr><td>ignored</td></tr></tbody></table>
</body></html>`

func testClient(baseURL string) *Client {
	httpClient := httputil.New(&config.Config{}, logger.NewNop()).DisableRetry()
	return NewClient(config.WikipediaConfig{
		BaseURL:   baseURL,
		UserAgent: "test-agent",
	}, httpClient, logger.NewNop())
}

func TestFetchConstituents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wiki/List_of_S%26P_500_companies", r.URL.EscapedPath())
		w.Write([]byte(listPage))
	}))
	defer server.Close()

	securities, err := testClient(server.URL).FetchConstituents(context.Background())
	require.NoError(t, err)
	require.Len(t, securities, 2)

	apple := securities[0]
	assert.Equal(t, "AAPL", apple.Symbol)
	assert.Equal(t, "Apple Inc.", apple.Name)
	assert.Equal(t, "Information Technology", apple.Sector)
	assert.Equal(t, "Technology Hardware, Storage & Peripherals", apple.Industry)
	assert.True(t, apple.Active)

	// Share-class dots become dashes.
	assert.Equal(t, "BRK-B", securities[1].Symbol)
	assert.Equal(t, "Financials", securities[1].Sector)
}

func TestFetchConstituentsEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchConstituents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no constituents table")
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BRK-B", NormalizeSymbol("BRK.B"))
	assert.Equal(t, "BF-B", NormalizeSymbol(" BF.B "))
	assert.Equal(t, "MSFT", NormalizeSymbol("MSFT"))
}
