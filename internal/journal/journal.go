// Package journal persists the agent's structured event stream as
// zstd-compressed JSONL segments, one per UTC hour, under
// <data>/events/.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one recorded agent event.
type Entry struct {
	TS     time.Time      `json:"ts"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// EventLogger records lifecycle, movement, mining and auth events. It
// satisfies the Recorder interfaces of the agent packages. Write
// failures are dropped after logging; the event stream is diagnostic,
// never load-bearing.
type EventLogger struct {
	dir    string
	errLog func(format string, v ...any)

	mu   sync.Mutex
	hour string
	file *os.File
	zw   *zstd.Encoder
}

func NewEventLogger(dataDir string, errLog func(format string, v ...any)) *EventLogger {
	return &EventLogger{
		dir:    filepath.Join(dataDir, "events"),
		errLog: errLog,
	}
}

func (l *EventLogger) Record(kind string, fields map[string]any) {
	e := Entry{TS: time.Now().UTC(), Kind: kind, Fields: fields}
	if err := l.append(e); err != nil && l.errLog != nil {
		l.errLog("journal write: %v", err)
	}
}

func (l *EventLogger) append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if hour := e.TS.Format("2006-01-02-15"); hour != l.hour {
		if err := l.openSegmentLocked(hour); err != nil {
			return err
		}
	}
	if _, err := l.zw.Write(line); err != nil {
		return err
	}
	// Per-entry flush bounds loss to the line in flight.
	return l.zw.Flush()
}

// openSegmentLocked closes the current segment and starts the one for
// the given hour. Reopening an existing segment appends a new frame;
// the zstd reader handles concatenated frames.
func (l *EventLogger) openSegmentLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(l.dir, "events-"+hour+".jsonl.zst"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.file, l.zw, l.hour = f, zw, hour
	return nil
}

func (l *EventLogger) closeLocked() error {
	var err error
	if l.zw != nil {
		err = l.zw.Close()
		l.zw = nil
	}
	if l.file != nil {
		if cerr := l.file.Close(); err == nil {
			err = cerr
		}
		l.file = nil
	}
	l.hour = ""
	return err
}

func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}
