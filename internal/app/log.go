package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"vsync/internal/vsync"
)

// tsvHandler is a slog.Handler formatting records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type tsvHandler struct {
	w     io.Writer
	opID  string
	attrs []slog.Attr
}

func (h *tsvHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *tsvHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message); err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *tsvHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tsvHandler{
		w:     h.w,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *tsvHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a logger writing to stderr and to a size-rotated log
// file under logDir. opID tags every line of one CLI run so interleaved runs
// can be told apart.
func newLogger(logDir string, opID string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotated := &lumberjack.Logger{
		Filename:   logDir + "/vsync.log",
		MaxSize:    10, // megabytes
		MaxBackups: 5,
	}

	handler := &tsvHandler{w: io.MultiWriter(rotated, os.Stderr), opID: opID}
	return slog.New(handler), rotated, nil
}

// slogAdapter satisfies vsync.Logger with a *slog.Logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

var _ vsync.Logger = (*slogAdapter)(nil)
