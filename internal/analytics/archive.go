// Package analytics keeps an append-only archive of game event outcomes as
// zstd-compressed JSON lines, one file per UTC hour.
package analytics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const hourLayout = "2006-01-02-15"

// Event is one archived record.
type Event struct {
	At        time.Time      `json:"at"`
	Kind      string         `json:"kind"`
	UserID    int64          `json:"user_id,omitempty"`
	SessionID int64          `json:"session_id,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Archive is safe for concurrent use. A nil *Archive drops everything.
type Archive struct {
	dir    string
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewArchive(dir, prefix string, logger *slog.Logger) *Archive {
	return &Archive{dir: dir, prefix: prefix, logger: logger.With("component", "analytics_archive")}
}

// Record appends an event. Failures are logged, never returned: analytics
// must not break gameplay.
func (a *Archive) Record(e Event) {
	if a == nil {
		return
	}
	if err := a.write(e); err != nil {
		a.logger.Warn("Failed to archive event", "operation", "record", "kind", e.Kind, "error", err)
	}
}

func (a *Archive) write(e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	hour := e.At.UTC().Format(hourLayout)
	if hour != a.curHour {
		if err := a.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := a.w.Write(b); err != nil {
		return err
	}
	if err := a.w.WriteByte('\n'); err != nil {
		return err
	}
	return a.w.Flush()
}

func (a *Archive) rotateLocked(hour string) error {
	if err := a.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	f, err := os.OpenFile(a.Path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to start zstd encoder: %w", err)
	}
	a.f, a.enc = f, enc
	a.w = bufio.NewWriterSize(enc, 64*1024)
	a.curHour = hour
	a.logger.Debug("Archive rotated", "operation", "rotate", "hour", hour)
	return nil
}

func (a *Archive) closeLocked() error {
	var err error
	if a.w != nil {
		_ = a.w.Flush()
	}
	if a.enc != nil {
		err = a.enc.Close()
		a.enc = nil
	}
	if a.f != nil {
		_ = a.f.Close()
		a.f = nil
	}
	a.w = nil
	a.curHour = ""
	return err
}

// Path is the file holding events for one hour key.
func (a *Archive) Path(hour string) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s-%s.jsonl.zst", a.prefix, hour))
}

func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}
