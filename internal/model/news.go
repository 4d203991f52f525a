package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Sentiment is the closed set of labels a classifier may attach to an item.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
)

// Sentiments lists the valid labels in schema order.
var Sentiments = []Sentiment{SentimentPositive, SentimentNegative, SentimentNeutral}

// ParseSentiment accepts the English labels and their Spanish equivalents.
func ParseSentiment(s string) (Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "positivo":
		return SentimentPositive, nil
	case "negative", "negativo":
		return SentimentNegative, nil
	case "neutral":
		return SentimentNeutral, nil
	default:
		return "", eris.Errorf("unknown sentiment %q", s)
	}
}

// Calendar holds the publication time split into fields in the target zone.
// Weekday counts from Monday = 0.
type Calendar struct {
	Year      int `json:"year"`
	Month     int `json:"month"`
	Day       int `json:"day"`
	Hour      int `json:"hour"`
	Minute    int `json:"minute"`
	Weekday   int `json:"weekday"`
	DayOfYear int `json:"day_of_year"`
}

// CalendarOf decomposes t in loc.
func CalendarOf(t time.Time, loc *time.Location) Calendar {
	if loc != nil {
		t = t.In(loc)
	}
	return Calendar{
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		Hour:      t.Hour(),
		Minute:    t.Minute(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
		DayOfYear: t.YearDay(),
	}
}

// Enrichment is set exactly once per item, all fields together.
type Enrichment struct {
	Topic      string    `json:"topic"`
	Sentiment  Sentiment `json:"sentiment"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// NewsItem is a feed entry accepted for a candidate. Key and CandidateID
// together form the dedup identity.
type NewsItem struct {
	Key         string      `json:"key"`
	CandidateID int64       `json:"candidate_id"`
	SourceID    string      `json:"source_id"`
	Headline    string      `json:"headline"`
	Outlet      string      `json:"outlet"`
	Link        string      `json:"link"`
	SourceHref  string      `json:"source_href,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
	Calendar    Calendar    `json:"calendar"`
	Enrichment  *Enrichment `json:"enrichment,omitempty"`
}

// PendingItem is a stored item still lacking enrichment, joined with the
// candidate name needed to build the prompt.
type PendingItem struct {
	Key           string
	CandidateID   int64
	CandidateName string
	Headline      string
	PublishedAt   time.Time
}

// Classification is the structured output of a classifier call.
type Classification struct {
	Topic     string    `json:"tema_principal"`
	Sentiment Sentiment `json:"sentimiento"`
}
