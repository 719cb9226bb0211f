package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scrapeAll(t *testing.T, s Scraper) []string {
	t.Helper()
	ps, err := s.Scrape(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func TestListScraper(t *testing.T) {
	srv := serve(t, "text/plain", "1.2.3.4:8080\nsocks5://u:p@5.6.7.8:1080\ngarbage line\n1.2.3.4:8080\n")

	got := scrapeAll(t, NewListScraper(srv.URL))
	assert.Equal(t, []string{"http://1.2.3.4:8080", "socks5://u:p@5.6.7.8:1080"}, got)
}

func TestListScraper_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewListScraper(srv.URL).Scrape(context.Background())
	assert.Error(t, err)
}

func TestTableScraper(t *testing.T) {
	page := `<html><body><table>
<tr><th>IP Address</th><th>Port</th><th>Type</th></tr>
<tr><td>10.1.1.1</td><td>3128</td><td>HTTP</td></tr>
<tr><td>10.1.1.2</td><td>1080</td><td>SOCKS5</td></tr>
<tr><td>not-an-ip</td><td>80</td><td>HTTP</td></tr>
<tr><td>10.1.1.3</td><td>abc</td><td>HTTP</td></tr>
</table></body></html>`
	srv := serve(t, "text/html", page)

	got := scrapeAll(t, NewTableScraper(srv.URL))
	assert.Equal(t, []string{"http://10.1.1.1:3128", "socks5://10.1.1.2:1080"}, got)
}

func TestFromSources(t *testing.T) {
	ss := FromSources(" http://a.example/list.txt , table+http://b.example/ ,,")
	require.Len(t, ss, 2)
	assert.IsType(t, &ListScraper{}, ss[0])
	assert.IsType(t, &TableScraper{}, ss[1])
	assert.Equal(t, "http://b.example/", ss[1].Name())
}

func TestFromSourcesPresets(t *testing.T) {
	ss := FromSources("ip3366,ProxyDB")
	require.Len(t, ss, 2)
	assert.IsType(t, &TableScraper{}, ss[0])
	assert.Equal(t, presets["ip3366"], ss[0].Name())
	assert.Equal(t, presets["proxydb"], ss[1].Name())
}
