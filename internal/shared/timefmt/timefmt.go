// Package timefmt is the single place timestamps are converted to and from
// their stored ISO-8601 text form.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

// Layout is fixed-width UTC so stored values sort lexically in time order.
const Layout = "2006-01-02T15:04:05.000000Z"

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// FormatPtr formats an optional time, mapping nil to SQL NULL.
func FormatPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := Format(*t)
	return &s
}

// Parse accepts the stored layout, RFC 3339 with any offset, and naive
// timestamps, which are read as UTC.
func Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(Layout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	// Postgres text output: "2006-01-02 15:04:05.999999+00"
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07", value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// ParsePtr parses an optional column; empty input yields nil.
func ParsePtr(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := Parse(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
