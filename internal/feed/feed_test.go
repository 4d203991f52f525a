package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswatch/internal/fetcher"
	"github.com/sells-group/newswatch/internal/resilience"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>"Gustavo Petro" when:1d - Google Noticias</title>
<item>
  <title>Petro anuncia reforma tributaria - El Tiempo</title>
  <link>https://news.google.com/rss/articles/CBMiAAA</link>
  <guid isPermaLink="false">CBMiAAA</guid>
  <pubDate>Mon, 03 Mar 2025 14:05:00 GMT</pubDate>
  <source url="https://www.eltiempo.com">El Tiempo</source>
</item>
<item>
  <title>Sin fuente ni fecha</title>
  <link>https://news.google.com/rss/articles/CBMiBBB</link>
</item>
</channel>
</rss>`

func newTestFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		RequestsPerSecond: 100,
		Retry: &resilience.RetryConfig{
			MaxAttempts: 2,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
	})
}

func TestDailyQuery(t *testing.T) {
	assert.Equal(t, `"Gustavo Petro" when:1d`, DailyQuery("  Gustavo   Petro ").Terms)
}

func TestHistoricalQuery(t *testing.T) {
	q := HistoricalQuery("Vicky Dávila", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, `"Vicky Dávila" after:2024-12-31 before:2025-01-01`, q.Terms)
}

func TestBuildURL(t *testing.T) {
	u := BuildURL("", DailyQuery("Gustavo Petro"), Locale{})
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "news.google.com", parsed.Host)
	assert.Equal(t, "/rss/search", parsed.Path)
	assert.Equal(t, `"Gustavo Petro" when:1d`, parsed.Query().Get("q"))
	assert.Equal(t, "es-419", parsed.Query().Get("hl"))
	assert.Equal(t, "CO", parsed.Query().Get("gl"))
	assert.Equal(t, "CO:es-419", parsed.Query().Get("ceid"))
}

func TestGoogleNews_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"Gustavo Petro" when:1d`, r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS)) //nolint:errcheck
	}))
	defer srv.Close()

	g := NewGoogleNews(newTestFetcher(), srv.URL, DefaultLocale)
	entries, err := g.Fetch(context.Background(), DailyQuery("Gustavo Petro"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, "Petro anuncia reforma tributaria - El Tiempo", e.Title)
	assert.Equal(t, "CBMiAAA", e.GUID)
	assert.Equal(t, "https://www.eltiempo.com", e.SourceHref)
	require.NotNil(t, e.Published)
	assert.Equal(t, time.Date(2025, 3, 3, 14, 5, 0, 0, time.UTC), e.Published.UTC())

	assert.Nil(t, entries[1].Published)
	assert.Empty(t, entries[1].GUID)
}

func TestGoogleNews_FetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "bad" {
			w.Write([]byte("<html>not a feed")) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGoogleNews(newTestFetcher(), srv.URL, DefaultLocale)

	_, err := g.Fetch(context.Background(), Query{Terms: "down"})
	assert.True(t, errors.Is(err, ErrFetch))

	_, err = g.Fetch(context.Background(), Query{Terms: "bad"})
	assert.True(t, errors.Is(err, ErrFetch))
}

func TestSplitTitle(t *testing.T) {
	h, o := SplitTitle("Petro - Bolívar: debate - Semana")
	assert.Equal(t, "Petro - Bolívar: debate", h)
	assert.Equal(t, "Semana", o)

	h, o = SplitTitle(" Petro anuncia reforma ")
	assert.Equal(t, "Petro anuncia reforma", h)
	assert.Equal(t, UnknownOutlet, o)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", DedupKey("hello"))
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (string, error) {
	return "", errors.New("decode failed")
}

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, link string) (string, error) { return m[link], nil }

func TestToItem(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	pub := time.Date(2025, 3, 4, 2, 30, 0, 0, time.UTC)
	e := Entry{
		Title:      "Petro anuncia reforma - El Tiempo",
		GUID:       "guid-1",
		Link:       "https://news.google.com/rss/articles/x",
		Published:  &pub,
		SourceHref: "https://www.eltiempo.com",
	}

	item, err := ToItem(context.Background(), e, 7, mapResolver{e.Link: "https://www.eltiempo.com/a"}, bogota)
	require.NoError(t, err)
	assert.Equal(t, DedupKey("guid-1"), item.Key)
	assert.Equal(t, int64(7), item.CandidateID)
	assert.Equal(t, "Petro anuncia reforma", item.Headline)
	assert.Equal(t, "El Tiempo", item.Outlet)
	assert.Equal(t, "https://www.eltiempo.com/a", item.Link)
	assert.Equal(t, 3, item.Calendar.Day)
	assert.Equal(t, 21, item.Calendar.Hour)
	assert.Equal(t, 0, item.Calendar.Weekday) // Monday

	e.GUID = ""
	item, err = ToItem(context.Background(), e, 7, failingResolver{}, bogota)
	require.NoError(t, err)
	assert.Equal(t, DedupKey(e.Link), item.Key)
	assert.Equal(t, e.Link, item.Link)
}

func TestToItem_Incomplete(t *testing.T) {
	pub := time.Now()
	_, err := ToItem(context.Background(), Entry{Title: "x", Link: "l"}, 1, nil, nil)
	assert.True(t, errors.Is(err, ErrIncompleteEntry))

	_, err = ToItem(context.Background(), Entry{Title: "x", Published: &pub}, 1, nil, nil)
	assert.True(t, errors.Is(err, ErrIncompleteEntry))
}

func TestDays(t *testing.T) {
	days := Days(time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	require.Len(t, days, 3)
	assert.Equal(t, 29, days[1].Day())

	assert.Empty(t, Days(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil))
}
