package model

import "github.com/rotisserie/eris"

// ErrInvalidPass is returned when a pass name outside the closed set is used.
var ErrInvalidPass = eris.New("invalid pass name")

// Pass names one of the resumable candidate walks.
type Pass string

const (
	PassDaily      Pass = "daily"
	PassHistorical Pass = "historical"
)

// Valid reports whether p is one of the known passes.
func (p Pass) Valid() bool {
	switch p {
	case PassDaily, PassHistorical:
		return true
	default:
		return false
	}
}

// ParsePass converts a string to a Pass, rejecting unknown names.
func ParsePass(s string) (Pass, error) {
	p := Pass(s)
	if !p.Valid() {
		return "", eris.Wrapf(ErrInvalidPass, "model: parse pass %q", s)
	}
	return p, nil
}

// Candidate is a person whose news coverage is tracked.
type Candidate struct {
	ID             int64    `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	TopicID        *string  `json:"topic_id,omitempty" yaml:"topic_id"`
	Keywords       []string `json:"keywords,omitempty" yaml:"keywords"`
	DailyPass      bool     `json:"daily_pass" yaml:"-"`
	HistoricalPass bool     `json:"historical_pass" yaml:"-"`
	Active         bool     `json:"active" yaml:"active"`
}

// Processed reports the flag for the given pass.
func (c Candidate) Processed(p Pass) bool {
	if p == PassHistorical {
		return c.HistoricalPass
	}
	return c.DailyPass
}
