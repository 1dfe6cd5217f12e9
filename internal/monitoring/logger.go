// Package monitoring holds the process-level logger shared by the areascan
// command and its helpers.
package monitoring

import (
	"bytes"
	"io"
	"log"
	"sync"
)

// Logf is the process diagnostic logger. It defaults to log.Printf and may be
// replaced with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// lineWriter forwards complete lines to Logf.
type lineWriter struct {
	mu     sync.Mutex
	prefix string
	buf    []byte
}

// Writer returns an io.Writer that sends each complete line written to it
// through Logf with prefix prepended. It lets package log streams configured
// with SetLogWriters follow SetLogger.
func Writer(prefix string) io.Writer {
	return &lineWriter{prefix: prefix}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		Logf("%s%s", w.prefix, w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
