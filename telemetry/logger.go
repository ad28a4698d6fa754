// Package telemetry wraps zerolog with OTEL trace correlation.
package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry.
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration.
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger named after its component.
func NewLogger(component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context for trace propagation.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for lifecycle operations

func (l *Logger) LogTransition(ctx context.Context, kind, id, transition, from, to string) {
	l.WithContext(ctx).Info().
		Str("record_kind", kind).
		Str("record_id", id).
		Str("transition", transition).
		Str("from", from).
		Str("to", to).
		Msg("state transition")
}

func (l *Logger) LogAdmissionRejected(ctx context.Context, resourceID, componentKey, category string) {
	l.WithContext(ctx).Warn().
		Str("resource_id", resourceID).
		Str("component_key", componentKey).
		Str("category", category).
		Msg("admission rejected, scope locked")
}

func (l *Logger) LogBackendError(ctx context.Context, op, resourceID string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", op).
		Str("resource_id", resourceID).
		Msg("backend call failed")
}

func (l *Logger) LogReconcilePass(ctx context.Context, scopeID, entity string, created, updated, deleted int) {
	l.WithContext(ctx).Info().
		Str("scope_id", scopeID).
		Str("entity_type", entity).
		Int("created", created).
		Int("updated", updated).
		Int("deleted", deleted).
		Msg("reconciliation pass complete")
}

func (l *Logger) LogForcedOverride(ctx context.Context, resourceID, state, operator string) {
	l.WithContext(ctx).Warn().
		Str("resource_id", resourceID).
		Str("forced_state", state).
		Str("operator", operator).
		Bool("out_of_band", true).
		Msg("lifecycle state forced outside normal flow")
}
