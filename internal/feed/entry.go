package feed

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswatch/internal/model"
)

// UnknownOutlet is used when the title carries no " - Outlet" suffix.
const UnknownOutlet = "Desconocido"

// ErrIncompleteEntry marks an entry lacking a publication time or link.
var ErrIncompleteEntry = eris.New("feed entry incomplete")

// Entry is one feed item as published.
type Entry struct {
	Title      string
	GUID       string
	Link       string
	Published  *time.Time
	SourceHref string
}

// LinkResolver maps a feed link to the canonical article URL.
type LinkResolver interface {
	Resolve(ctx context.Context, link string) (string, error)
}

// PassThrough returns links unchanged.
type PassThrough struct{}

func (PassThrough) Resolve(_ context.Context, link string) (string, error) { return link, nil }

// SplitTitle separates the headline from the trailing outlet name.
func SplitTitle(title string) (headline, outlet string) {
	i := strings.LastIndex(title, " - ")
	if i < 0 {
		return strings.TrimSpace(title), UnknownOutlet
	}
	headline = strings.TrimSpace(title[:i])
	outlet = strings.TrimSpace(title[i+3:])
	if outlet == "" {
		outlet = UnknownOutlet
	}
	return headline, outlet
}

// DedupKey is the md5 hex digest of the source identifier.
func DedupKey(sourceID string) string {
	sum := md5.Sum([]byte(sourceID))
	return hex.EncodeToString(sum[:])
}

// ToItem converts e into a NewsItem for candidateID. Calendar fields are
// computed in loc. A resolver failure keeps the feed link.
func ToItem(ctx context.Context, e Entry, candidateID int64, resolver LinkResolver, loc *time.Location) (model.NewsItem, error) {
	if e.Published == nil || e.Published.IsZero() {
		return model.NewsItem{}, eris.Wrapf(ErrIncompleteEntry, "feed: %q has no publication time", e.Title)
	}
	if strings.TrimSpace(e.Link) == "" {
		return model.NewsItem{}, eris.Wrapf(ErrIncompleteEntry, "feed: %q has no link", e.Title)
	}
	if loc == nil {
		loc = time.UTC
	}
	if resolver == nil {
		resolver = PassThrough{}
	}

	sourceID := strings.TrimSpace(e.GUID)
	if sourceID == "" {
		sourceID = e.Link
	}
	link, err := resolver.Resolve(ctx, e.Link)
	if err != nil || link == "" {
		link = e.Link
	}

	headline, outlet := SplitTitle(e.Title)
	published := e.Published.UTC()
	return model.NewsItem{
		Key:         DedupKey(sourceID),
		CandidateID: candidateID,
		SourceID:    sourceID,
		Headline:    headline,
		Outlet:      outlet,
		Link:        link,
		SourceHref:  e.SourceHref,
		PublishedAt: published,
		Calendar:    model.CalendarOf(published, loc),
	}, nil
}
