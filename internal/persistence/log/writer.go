// Package log keeps the turn log: one JSON object per line inside a zstd
// stream, one file per UTC hour named <prefix>-yyyy-mm-dd-hh.jsonl.zst.
// Reopening an hour appends a new zstd frame to the same file.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"cauldron.ai/internal/protocol"
)

const hourLayout = "2006-01-02-15"

func fileName(prefix, hour string) string {
	return fmt.Sprintf("%s-%s.jsonl.zst", prefix, hour)
}

type Options struct {
	Dir    string
	Prefix string
	// Level defaults to zstd.SpeedFastest.
	Level zstd.EncoderLevel
	// Now defaults to time.Now; files rotate on its UTC hour.
	Now func() time.Time
}

// HourlyWriter appends JSON lines and rotates on the hour. Every Append is
// flushed through the compressor, so a crash loses at most the line being
// written.
type HourlyWriter struct {
	opt Options

	mu    sync.Mutex
	hour  string
	path  string
	file  *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	jenc  *json.Encoder
	lines uint64
}

func NewHourlyWriter(opt Options) *HourlyWriter {
	if opt.Level == 0 {
		opt.Level = zstd.SpeedFastest
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &HourlyWriter{opt: opt}
}

func (w *HourlyWriter) Append(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openFor(w.opt.Now().UTC().Format(hourLayout)); err != nil {
		return err
	}
	if err := w.jenc.Encode(v); err != nil {
		return fmt.Errorf("%s: encode: %w", filepath.Base(w.path), err)
	}
	w.lines++
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.zw.Flush()
}

// Path is the file currently open, or "" before the first Append.
func (w *HourlyWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Lines counts appended lines over the writer's lifetime.
func (w *HourlyWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *HourlyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finish()
}

func (w *HourlyWriter) openFor(hour string) error {
	if w.file != nil && hour == w.hour {
		return nil
	}
	if err := w.finish(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.opt.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.opt.Dir, fileName(w.opt.Prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	// The encoder survives rotation; Reset points it at the new file.
	if w.zw == nil {
		w.zw, err = zstd.NewWriter(f, zstd.WithEncoderLevel(w.opt.Level))
		if err != nil {
			_ = f.Close()
			return err
		}
	} else {
		w.zw.Reset(f)
	}
	if w.buf == nil {
		w.buf = bufio.NewWriterSize(w.zw, 64<<10)
	} else {
		w.buf.Reset(w.zw)
	}
	w.jenc = json.NewEncoder(w.buf)
	w.file, w.path, w.hour = f, path, hour
	return nil
}

// finish ends the current zstd frame and closes the file.
func (w *HourlyWriter) finish() error {
	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.zw.Close(); err == nil {
		err = cerr
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file, w.hour = nil, ""
	return err
}

// TurnLogger writes one line per decided turn.
type TurnLogger struct{ w *HourlyWriter }

func NewTurnLogger(dir string) *TurnLogger {
	return &TurnLogger{w: NewHourlyWriter(Options{Dir: dir, Prefix: TurnPrefix})}
}

func (l *TurnLogger) WriteTurn(e protocol.TurnLogEntry) error { return l.w.Append(e) }
func (l *TurnLogger) Close() error                             { return l.w.Close() }
