// internal/logging/context.go
package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	sessionCtxKey  struct{}
	documentCtxKey struct{}
	roleCtxKey     struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

const maxIDLen = 128

// Document ids come from upstream storage keys, so dots, slashes and
// colons are allowed.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:/-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id) && idPattern.MatchString(id)
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if v := SessionIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("session.id", v))
	}
	if v := DocumentIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("document.id", v))
	}
	if v := RoleFromContext(ctx); v != "" {
		fields = append(fields, zap.String("entity.role", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func withID(ctx context.Context, key any, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func stringFrom(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithSessionID tags ctx with the resolution session id. Invalid ids
// are ignored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, sessionCtxKey{})
}

// WithDocumentID tags ctx with the id of the document being resolved.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return withID(ctx, documentCtxKey{}, id)
}

func DocumentIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, documentCtxKey{})
}

// WithRole tags ctx with the entity role (sold_to, ship_to, consignee,
// or line/<n> for line items).
func WithRole(ctx context.Context, role string) context.Context {
	return withID(ctx, roleCtxKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	return stringFrom(ctx, roleCtxKey{})
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestCtxKey{})
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
