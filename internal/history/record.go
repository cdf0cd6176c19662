package history

import (
	"strings"
	"time"
)

// Record is one persisted analysis as the backend lists it.
type Record struct {
	ImageID    string  `json:"imageId"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
	ImageURL   string  `json:"imageUrl"`

	// Time is the parsed Timestamp; zero when it could not be parsed.
	Time        time.Time `json:"-"`
	DisplayTime string    `json:"-"`
}

// backend timestamps come from Python isoformat(), usually without a zone
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// TimeFormat turns raw backend timestamps into display strings.
type TimeFormat struct {
	Location *time.Location
	Layout   string
}

func (f TimeFormat) withDefaults() TimeFormat {
	if f.Location == nil {
		f.Location = time.Local
	}
	if f.Layout == "" {
		f.Layout = DefaultTimestampLayout
	}
	return f
}

// DefaultTimestampLayout matches the upload result card.
const DefaultTimestampLayout = "02.01.2006, 15:04:05"

// ParseTimestamp accepts RFC 3339 and zoneless ISO 8601 values.
// Zoneless values are read in loc.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// apply fills Time and DisplayTime; unparsable timestamps are shown raw.
func (f TimeFormat) apply(r *Record) {
	t, ok := ParseTimestamp(r.Timestamp, f.Location)
	if !ok {
		r.Time = time.Time{}
		r.DisplayTime = r.Timestamp
		return
	}
	r.Time = t
	r.DisplayTime = t.In(f.Location).Format(f.Layout)
}
