package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// WriterLog is a logs.Log that appends timestamped lines to an io.Writer.
// It backs the detection log, which is kept apart from the service log.
type WriterLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

var _ logs.Log = (*WriterLog)(nil)

// NewWriterLog writes to w. Close does not close w.
func NewWriterLog(w io.Writer) *WriterLog {
	return &WriterLog{w: w, now: time.Now}
}

// OpenFileLog appends to the file at path, creating parent directories.
func OpenFileLog(path string) (*WriterLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &WriterLog{w: f, closer: f, now: time.Now}, nil
}

func (l *WriterLog) write(level, format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	line := fmt.Sprintf("%s %s %s", l.now().Format("2006-01-02 15:04:05.000"), level, strings.TrimRight(msg, "\n"))

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, line) //nolint:errcheck // nowhere to report log write failures
}

func (l *WriterLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		l.closer.Close() //nolint:errcheck
		l.closer = nil
	}
}

func (l *WriterLog) Debugf(format string, a ...interface{}) {
	l.write("Debug", format, a...)
}

func (l *WriterLog) Infof(format string, a ...interface{}) {
	l.write("Info", format, a...)
}

func (l *WriterLog) Warnf(format string, a ...interface{}) {
	l.write("Warning", format, a...)
}

func (l *WriterLog) Errorf(format string, a ...interface{}) {
	l.write("Error", format, a...)
}

func (l *WriterLog) Criticalf(format string, a ...interface{}) {
	l.write("Critical", format, a...)
}
