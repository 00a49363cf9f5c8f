package rpc

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// lineLogger is an io.Writer that logs each complete line written to it.
// Used as the subprocess stderr; the server writes its own log records there.
type lineLogger struct {
	mu     sync.Mutex
	buf    []byte
	logger *zap.Logger
}

func newLineLogger(l *zap.Logger) *lineLogger {
	return &lineLogger{logger: l}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(w.buf[:i], "\r"); len(line) > 0 {
			w.logger.Debug(string(line))
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > DefaultMaxLineBytes {
		w.logger.Debug(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// flush logs a trailing line that never got its newline.
func (w *lineLogger) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if line := bytes.TrimRight(w.buf, "\r"); len(line) > 0 {
		w.logger.Debug(string(line))
	}
	w.buf = w.buf[:0]
}
