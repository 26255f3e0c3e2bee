package timefmt

import (
	"sort"
	"testing"
	"time"
)

func TestParseAcceptsStoredAndLegacyForms(t *testing.T) {
	want := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	cases := []struct {
		name  string
		input string
	}{
		{"stored", "2025-03-14T09:26:53.000000Z"},
		{"rfc3339 utc", "2025-03-14T09:26:53Z"},
		{"rfc3339 offset", "2025-03-14T03:26:53-06:00"},
		{"naive T", "2025-03-14T09:26:53"},
		{"naive space", "2025-03-14 09:26:53"},
		{"naive fractional", "2025-03-14 09:26:53.000000"},
		{"postgres offset", "2025-03-14 09:26:53+00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.input, err)
			}
			if !got.Equal(want) {
				t.Fatalf("Parse(%q) = %v, want %v", tc.input, got, want)
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "yesterday", "2025-13-45"} {
		if _, err := Parse(input); err == nil {
			t.Fatalf("Parse(%q) succeeded", input)
		}
	}
}

func TestFormatSortsChronologically(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(10 * time.Hour),
		base.Add(90 * time.Second),
		base.Add(1500 * time.Millisecond),
		base.Add(-time.Hour).In(time.FixedZone("x", -6*3600)),
	}

	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = Format(ts)
	}
	sort.Strings(formatted)

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i, ts := range times {
		if formatted[i] != Format(ts) {
			t.Fatalf("lexical order mismatch at %d: %s vs %s", i, formatted[i], Format(ts))
		}
	}
}

func TestParsePtrEmpty(t *testing.T) {
	got, err := ParsePtr("  ")
	if err != nil || got != nil {
		t.Fatalf("ParsePtr(blank) = %v, %v", got, err)
	}
}
