// Package feed fetches Google News RSS search results and converts them
// into news items.
package feed

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed/rss"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/fetcher"
)

// ErrFetch wraps every download or parse failure of a feed.
var ErrFetch = eris.New("feed fetch failed")

// Source yields feed entries for a query.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]Entry, error)
}

// GoogleNews is a Source backed by the Google News RSS search endpoint.
type GoogleNews struct {
	fetcher fetcher.Fetcher
	baseURL string
	locale  Locale
	log     *zap.Logger
}

// NewGoogleNews creates a Google News source. Empty baseURL and locale
// select the defaults.
func NewGoogleNews(f fetcher.Fetcher, baseURL string, locale Locale) *GoogleNews {
	return &GoogleNews{
		fetcher: f,
		baseURL: baseURL,
		locale:  locale,
		log:     zap.L().With(zap.String("component", "feed")),
	}
}

// URL returns the request URL for q.
func (g *GoogleNews) URL(q Query) string {
	return BuildURL(g.baseURL, q, g.locale)
}

func (g *GoogleNews) Fetch(ctx context.Context, q Query) ([]Entry, error) {
	u := g.URL(q)
	g.log.Debug("fetching feed", zap.String("url", u))

	body, err := g.fetcher.Download(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(ErrFetch, "feed: download %q: %v", q.Terms, err)
	}
	defer body.Close() //nolint:errcheck

	parsed, err := (&rss.Parser{}).Parse(body)
	if err != nil {
		return nil, eris.Wrapf(ErrFetch, "feed: parse %q: %v", q.Terms, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		e := Entry{
			Title:     it.Title,
			Link:      it.Link,
			Published: it.PubDateParsed,
		}
		if it.GUID != nil {
			e.GUID = it.GUID.Value
		}
		if it.Source != nil {
			e.SourceHref = it.Source.URL
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ Source = (*GoogleNews)(nil)

// Days lists the calendar days from start to end inclusive, at midnight
// in loc.
func Days(start, end time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	start, end = start.In(loc), end.In(loc)
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)

	var days []time.Time
	for ; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
