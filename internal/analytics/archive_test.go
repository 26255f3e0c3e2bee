package analytics

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()

	var out []Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestArchiveRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, "corridor", slog.Default())
	at := time.Date(2025, 6, 1, 12, 59, 0, 0, time.UTC)

	a.Record(Event{At: at, Kind: "micro_event", UserID: 1, Outcome: "success"})
	a.Record(Event{At: at.Add(30 * time.Second), Kind: "micro_event", UserID: 2, Outcome: "ignored"})
	a.Record(Event{At: at.Add(2 * time.Minute), Kind: "hazard", UserID: 1, Outcome: "standard"})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first := readEvents(t, a.Path("2025-06-01-12"))
	if len(first) != 2 || first[1].UserID != 2 {
		t.Fatalf("12:00 file = %+v", first)
	}
	second := readEvents(t, a.Path("2025-06-01-13"))
	if len(second) != 1 || second[0].Kind != "hazard" {
		t.Fatalf("13:00 file = %+v", second)
	}
}

func TestNilArchive(t *testing.T) {
	var a *Archive
	a.Record(Event{Kind: "noop"})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
