package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type logger struct {
	slog *slog.Logger
}

func Create(debug bool, quiet bool) *logger {
	return CreateWithWriter(os.Stderr, debug, quiet)
}

func CreateWithWriter(w io.Writer, debug bool, quiet bool) *logger {
	programLevel := new(slog.LevelVar) // Info by default

	if debug {
		programLevel.Set(slog.LevelDebug)
	} else if quiet {
		programLevel.Set(slog.LevelWarn)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel})

	newLogger := new(logger)
	newLogger.slog = slog.New(h)

	return newLogger
}

func (l *logger) Debug(fmtStr string, vals ...any) {
	l.slog.Debug(format(fmtStr, vals))
}

func (l *logger) Info(fmtStr string, vals ...any) {
	l.slog.Info(format(fmtStr, vals))
}

func (l *logger) Warning(fmtStr string, vals ...any) {
	l.slog.Warn(format(fmtStr, vals))
}

func (l *logger) Error(fmtStr string, vals ...any) {
	l.slog.Error(format(fmtStr, vals))
}

func format(fmtStr string, a []any) string {
	if len(a) == 0 {
		return fmtStr
	}

	return fmt.Sprintf(fmtStr, a...)
}
