package model

import "time"

// DateLayout is the calendar-date layout used for quota keys.
const DateLayout = "2006-01-02"

// ModelQuota is a configured classification model and its daily call budget.
type ModelQuota struct {
	Name       string `json:"name" yaml:"name" mapstructure:"name"`
	DailyQuota int    `json:"daily_quota" yaml:"daily_quota" mapstructure:"daily_quota"`
}

// QuotaCounter is the call count for one model on one calendar date.
type QuotaCounter struct {
	Model string `json:"model"`
	Date  string `json:"date"`
	Calls int    `json:"calls"`
}

// QuotaDate formats the calendar date of t in loc.
func QuotaDate(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}
