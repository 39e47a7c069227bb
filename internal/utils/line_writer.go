package utils

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineSize caps a buffered partial line; longer lines are emitted in pieces.
const maxLineSize = 64 * 1024

// LineWriter is an io.Writer that calls emit once per complete line. It is
// used to route child process output (such as the compressor's progress)
// into the structured log.
type LineWriter struct {
	emit func(line string)
	buf  bytes.Buffer
	mu   sync.Mutex
}

func NewLineWriter(emit func(line string)) *LineWriter {
	return &LineWriter{emit: emit}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		w.send(string(line))
	}
	if w.buf.Len() > maxLineSize {
		w.send(string(w.buf.Next(w.buf.Len())))
	}
	return len(p), nil
}

// Close emits any trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.send(string(w.buf.Next(w.buf.Len())))
	}
	return nil
}

func (w *LineWriter) send(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.emit(line)
}
