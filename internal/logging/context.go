package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldModule names the hosted module a log line originates from.
	FieldModule = "module"
	// FieldPlugin carries the plugin identifier.
	FieldPlugin = "plugin"
	// FieldEventType classifies a log line for filtering (e.g. plugin_load_failed).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator reading a warning.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldSessionID identifies one daemon run.
	FieldSessionID = "session_id"
	// FieldPID is the daemon process id, stamped next to the session id.
	FieldPID = "pid"
)

type contextKey int

const (
	moduleKey contextKey = iota
	pluginKey
)

// ContextWithModule tags ctx with the hosted module name.
func ContextWithModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, moduleKey, module)
}

// ContextWithPlugin tags ctx with a plugin identifier.
func ContextWithPlugin(ctx context.Context, plugin string) context.Context {
	return context.WithValue(ctx, pluginKey, plugin)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if module, ok := ctx.Value(moduleKey).(string); ok && module != "" {
		fields = append(fields, slog.String(FieldModule, module))
	}
	if plugin, ok := ctx.Value(pluginKey).(string); ok && plugin != "" {
		fields = append(fields, slog.String(FieldPlugin, plugin))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
