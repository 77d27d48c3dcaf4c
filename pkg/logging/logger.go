package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Init builds the process logger and installs it as the slog default. Records go to stdout in
// the given format and, when file is set, also as JSON to file. The returned closer closes the
// file.
func Init(level, format, file, participant string) (*slog.Logger, io.Closer, error) {
	return initTo(os.Stdout, level, format, file, participant)
}

func initTo(stdout io.Writer, level, format, file, participant string) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handlers []slog.Handler
	if format == "json" {
		handlers = append(handlers, slog.NewJSONHandler(stdout, opts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stdout, opts))
	}

	var closer io.Closer = io.NopCloser(nil)
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		closer = f
	}

	logger := slog.New(NewHandler(slogmulti.Fanout(handlers...), participant))
	slog.SetDefault(logger)
	return logger, closer, nil
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler stamps every record with the participant.
type Handler struct {
	inner       slog.Handler
	participant string
}

func NewHandler(inner slog.Handler, participant string) *Handler {
	return &Handler{inner: inner, participant: participant}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.participant != "" {
		r.AddAttrs(slog.String("participant", h.participant))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("participant handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs), participant: h.participant}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), participant: h.participant}
}
