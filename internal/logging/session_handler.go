package logging

import (
	"context"
	"log/slog"
	"os"
)

// runHandler stamps every record with the identity of the daemon run that
// produced it, so interleaved runs sharing a log directory stay separable.
type runHandler struct {
	base slog.Handler
	run  []slog.Attr
}

func newSessionIDHandler(base slog.Handler, sessionID string) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	return &runHandler{base: base, run: []slog.Attr{
		slog.String(FieldSessionID, sessionID),
		slog.Int(FieldPID, os.Getpid()),
	}}
}

// WithSessionID tags every record emitted through the returned logger with
// the daemon run identifier and process id.
func WithSessionID(logger *slog.Logger, sessionID string) *slog.Logger {
	if logger == nil || sessionID == "" {
		return logger
	}
	return slog.New(newSessionIDHandler(logger.Handler(), sessionID))
}

func (h *runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *runHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(h.run...)
	return h.base.Handle(ctx, record)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{base: h.base.WithAttrs(attrs), run: h.run}
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	return &runHandler{base: h.base.WithGroup(name), run: h.run}
}
