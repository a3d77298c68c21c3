// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
)

// Testing is the subset of testing.TB the logger needs.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
}

// tWriter forwards complete log lines to t.Logf. Lines are buffered so that
// concurrent goroutines do not interleave partial records.
type tWriter struct {
	t   Testing
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *tWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// incomplete line, put it back for the next write
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		w.t.Helper()
		w.t.Logf("%s", bytes.TrimRight(line, "\n"))
	}
	return len(p), nil
}

// Logger returns a logger that writes to the test log at the given level.
func Logger(t Testing, level slog.Level) log.Logger {
	return log.NewLogger(Handler(t, level))
}

func Handler(t Testing, level slog.Level) slog.Handler {
	return log.NewTerminalHandlerWithLevel(&tWriter{t: t}, level, false)
}

var _ Testing = (testing.TB)(nil)
