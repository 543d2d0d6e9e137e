package logger

import (
	"context"
	"io"
	"log/slog"
)

// ANSI sequences for the console level tag.
const (
	ansiCyan   = "\033[36m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiReset  = "\033[0m"
)

// ColorTextHandler renders records through slog.TextHandler with the level
// name colorized and prefixed onto the message. Console output only; the
// JSON file handler never sees these escapes.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

func levelColor(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return ansiCyan
	case slog.LevelInfo:
		return ansiGreen
	case slog.LevelWarn:
		return ansiYellow
	case slog.LevelError:
		return ansiRed
	}
	return ansiReset
}

// Handle implements slog.Handler. The record is copied by value, so the
// message rewrite never leaks into sibling handlers.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
