package visit

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawlchain/internal/job/runner"
	logx "crawlchain/pkg/logx"
)

const productPage = `<!doctype html>
<html><head><title>Chair</title></head>
<body>
  <h1 class="name">  Oak   Chair </h1>
  <span class="price">€ 129</span>
  <ul class="gallery">
    <li><img src="/img/1.jpg"></li>
    <li><img src="/img/2.jpg"></li>
    <li><img src="/img/1.jpg"></li>
  </ul>
  <nav class="crumbs"><a>Home</a><a>Living</a><a>Chairs</a></nav>
</body></html>`

func TestParseSelector(t *testing.T) {
	s, err := ParseSelector("ul.gallery img@src")
	require.NoError(t, err)
	assert.Equal(t, "ul.gallery img", s.CSS)
	assert.Equal(t, "src", s.Attr)

	s, err = ParseSelector(`a[href^="mailto:"]`)
	require.NoError(t, err)
	assert.Equal(t, `a[href^="mailto:"]`, s.CSS)
	assert.Empty(t, s.Attr)

	_, err = ParseSelector("  ")
	require.Error(t, err)
	_, err = ParseSelector("div[")
	require.Error(t, err)
}

func TestExtract(t *testing.T) {
	sels := map[string]Selector{}
	for col, raw := range map[string]string{
		"name":   "h1.name",
		"price":  ".price",
		"images": "ul.gallery img@src",
		"crumbs": "nav.crumbs a",
		"sku":    ".sku",
	} {
		s, err := ParseSelector(raw)
		require.NoError(t, err)
		sels[col] = s
	}

	got, err := Extract(productPage, sels)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":   "Oak Chair",
		"price":  "€ 129",
		"images": "/img/1.jpg | /img/2.jpg",
		"crumbs": "Home | Living | Chairs",
		"sku":    "",
	}, got)
}

type memRows struct {
	mu   sync.Mutex
	rows map[string]map[string]string
}

func (m *memRows) Write(url string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]map[string]string{}
	}
	m.rows[url] = values
	return nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/p/chair", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "crawlchain")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(productPage))
	})
	mux.HandleFunc("/p/busy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/p/slow-down", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherStatusClassification(t *testing.T) {
	srv := newServer(t)
	f, err := NewHTTPFetcher(Config{})
	require.NoError(t, err)
	defer f.Close()

	html, err := f.Fetch(context.Background(), srv.URL+"/p/chair")
	require.NoError(t, err)
	assert.Contains(t, html, "Oak")

	_, err = f.Fetch(context.Background(), srv.URL+"/p/missing")
	require.Error(t, err)
	assert.True(t, runner.IsNoRetry(err))
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Code)

	for _, p := range []string{"/p/busy", "/p/slow-down"} {
		_, err = f.Fetch(context.Background(), srv.URL+p)
		require.Error(t, err)
		assert.False(t, runner.IsNoRetry(err), p)
	}
}

func TestVisitorWritesRow(t *testing.T) {
	srv := newServer(t)
	f, err := NewHTTPFetcher(Config{})
	require.NoError(t, err)
	rows := &memRows{}

	v, err := NewVisitor(f, map[string]string{"name": "h1.name", "price": ".price"}, []string{"name"}, rows, 0, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, v.Visit(context.Background(), srv.URL+"/p/chair"))
	assert.Equal(t, map[string]string{"name": "Oak Chair", "price": "€ 129"}, rows.rows[srv.URL+"/p/chair"])
}

func TestVisitorRequiredFieldMissing(t *testing.T) {
	srv := newServer(t)
	f, err := NewHTTPFetcher(Config{})
	require.NoError(t, err)

	v, err := NewVisitor(f, map[string]string{"sku": ".sku"}, []string{"sku"}, nil, 0, logx.Nop())
	require.NoError(t, err)
	err = v.Visit(context.Background(), srv.URL+"/p/chair")
	require.Error(t, err)
	assert.True(t, runner.IsNoRetry(err))
	assert.Contains(t, err.Error(), "sku")

	_, err = NewVisitor(f, map[string]string{}, []string{"sku"}, nil, 0, logx.Nop())
	require.Error(t, err)
}

func TestDatasetAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "dataset.csv")
	cols := Columns(map[string]string{"price": "", "name": ""})
	assert.Equal(t, []string{"name", "price"}, cols)

	d, err := OpenDataset(path, cols)
	require.NoError(t, err)
	require.NoError(t, d.Write("https://a.test/1", map[string]string{"name": "Chair, oak", "price": "10"}))
	assert.Equal(t, 1, d.Rows())
	require.NoError(t, d.Close())
	require.ErrorIs(t, d.Write("x", nil), os.ErrClosed)

	d, err = OpenDataset(path, cols)
	require.NoError(t, err)
	require.NoError(t, d.Write("https://a.test/2", map[string]string{"name": "Table"}))
	require.NoError(t, d.Close())

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	recs, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"url", "name", "price"},
		{"https://a.test/1", "Chair, oak", "10"},
		{"https://a.test/2", "Table", ""},
	}, recs)
}

func TestNewFetcherDrivers(t *testing.T) {
	f, err := NewFetcher(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &HTTPFetcher{}, f)

	f, err = NewFetcher(Config{Driver: "browser", ExecPath: "/opt/chrome", Proxy: "http://127.0.0.1:8800"}, logx.Nop())
	require.NoError(t, err)
	bf := f.(*BrowserFetcher)
	plain := NewBrowserFetcher(Config{}, logx.Nop())
	assert.Len(t, bf.allocatorOptions(), len(plain.allocatorOptions())+2)
	require.NoError(t, bf.Close())

	_, err = NewFetcher(Config{Driver: "ftp"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)
}
