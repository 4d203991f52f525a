package feed

import (
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/newswatch/internal/model"
)

// DefaultBaseURL is the Google News RSS search endpoint.
const DefaultBaseURL = "https://news.google.com/rss/search"

// Locale selects the Google News edition.
type Locale struct {
	HL   string `mapstructure:"hl"`
	GL   string `mapstructure:"gl"`
	CEID string `mapstructure:"ceid"`
}

// DefaultLocale is the Colombian Spanish edition.
var DefaultLocale = Locale{HL: "es-419", GL: "CO", CEID: "CO:es-419"}

// Query is a search expression plus the day it targets, if any.
type Query struct {
	Terms string
	// Day is the calendar day for historical queries; zero for daily.
	Day time.Time
}

// DailyQuery restricts an exact-name search to the last day.
func DailyQuery(name string) Query {
	return Query{Terms: `"` + collapseSpaces(name) + `" when:1d`}
}

// HistoricalQuery restricts an exact-name search to one calendar day.
func HistoricalQuery(name string, day time.Time) Query {
	next := day.AddDate(0, 0, 1)
	return Query{
		Terms: `"` + collapseSpaces(name) + `" after:` + day.Format(model.DateLayout) +
			` before:` + next.Format(model.DateLayout),
		Day: day,
	}
}

// BuildURL renders the RSS search URL for q.
func BuildURL(baseURL string, q Query, loc Locale) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if loc == (Locale{}) {
		loc = DefaultLocale
	}
	v := url.Values{}
	v.Set("q", q.Terms)
	v.Set("hl", loc.HL)
	v.Set("gl", loc.GL)
	v.Set("ceid", loc.CEID)
	return baseURL + "?" + v.Encode()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
