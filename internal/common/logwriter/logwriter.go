// Package logwriter adapts line-oriented byte streams (child process output,
// NDJSON response tees) to a structured logger.
package logwriter

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxLine caps how much of an unterminated line is buffered.
const DefaultMaxLine = 64 * 1024

// LineWriter logs complete lines written to it. Both '\n' and '\r' end a
// line, so progress output that redraws in place is logged frame by frame.
// Partial lines are buffered until a terminator arrives, Flush is called or
// they reach MaxLine bytes.
type LineWriter struct {
	Log   zerolog.Logger
	Level zerolog.Level
	// Field is the key the line text is logged under. Defaults to "line".
	Field string
	Msg   string
	// MaxLine defaults to DefaultMaxLine.
	MaxLine int

	mu  sync.Mutex
	buf []byte
}

// New returns a LineWriter emitting one event per line at the given level.
func New(log zerolog.Logger, level zerolog.Level, msg string) *LineWriter {
	return &LineWriter{Log: log, Level: level, Msg: msg}
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexAny(lw.buf, "\r\n")
		if idx < 0 {
			break
		}
		lw.emit(lw.buf[:idx])
		lw.buf = lw.buf[idx+1:]
	}
	limit := lw.MaxLine
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	for len(lw.buf) >= limit {
		lw.emit(lw.buf[:limit])
		lw.buf = lw.buf[limit:]
	}
	if len(lw.buf) == 0 {
		lw.buf = nil
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.buf) > 0 {
		lw.emit(lw.buf)
		lw.buf = nil
	}
}

func (lw *LineWriter) emit(line []byte) {
	if len(line) == 0 {
		return
	}
	field := lw.Field
	if field == "" {
		field = "line"
	}
	lw.Log.WithLevel(lw.Level).Bytes(field, line).Msg(lw.Msg)
}

// Tail keeps the last N bytes written to it; used to attach the end of a
// child's stderr to error messages.
type Tail struct {
	N int

	mu  sync.Mutex
	buf []byte
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if n := t.limit(); len(t.buf) > n {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-n:]...)
	}
	return len(p), nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

func (t *Tail) limit() int {
	if t.N <= 0 {
		return 4096
	}
	return t.N
}
