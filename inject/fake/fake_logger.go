package fake

import (
	"fmt"
	"strings"
	"sync"
)

type logger struct {
	mu    sync.Mutex
	lines map[string][]string
}

const (
	LEVEL_DEBUG   = "debug"
	LEVEL_INFO    = "info"
	LEVEL_WARNING = "warning"
	LEVEL_ERROR   = "error"
)

func Logger() *logger {
	logger := new(logger)
	logger.lines = make(map[string][]string)
	return logger
}

func (l *logger) Debug(fmtStr string, vals ...any) {
	l.record(LEVEL_DEBUG, fmtStr, vals)
}

func (l *logger) Info(fmtStr string, vals ...any) {
	l.record(LEVEL_INFO, fmtStr, vals)
}

func (l *logger) Warning(fmtStr string, vals ...any) {
	l.record(LEVEL_WARNING, fmtStr, vals)
}

func (l *logger) Error(fmtStr string, vals ...any) {
	l.record(LEVEL_ERROR, fmtStr, vals)
}

func (l *logger) Lines(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.lines[level]))
	copy(out, l.lines[level])
	return out
}

/* Count lines on the given level containing substr */
func (l *logger) Count(level string, substr string) int {
	n := 0
	for _, line := range l.Lines(level) {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func (l *logger) record(level string, fmtStr string, vals []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[level] = append(l.lines[level], format(fmtStr, vals))
}

func format(fmtStr string, a []any) string {
	if len(a) == 0 {
		return fmtStr
	}

	return fmt.Sprintf(fmtStr, a...)
}
