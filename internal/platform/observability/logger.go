package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/batimat/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger builds the JSON process logger. level overrides LOG_LEVEL when non-empty.
func NewLogger(level string) (*zap.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "message",
			TimeKey:    "timestamp",
			LevelKey:   "severity",
			CallerKey:  "caller",
			EncodeTime: zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(l.String()))
			},
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// FromContext returns the request-scoped logger, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger adapts a zap logger to the service logging hook. Entries are routed through
// otelzap so the active trace and span ids are attached, and the request-scoped logger is
// preferred over base when one is present on the context.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	fallback := otelzap.New(base, otelzap.WithTraceIDField(true))
	return func(ctx context.Context, event string, fields map[string]any) {
		if ctx == nil {
			ctx = context.Background()
		}
		logger := fallback
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			logger = otelzap.New(scoped, otelzap.WithTraceIDField(true))
		}

		zapFields := eventFields(fields)
		if isFailureEvent(event, fields) {
			logger.Ctx(ctx).Warn(event, zapFields...)
			return
		}
		logger.Ctx(ctx).Info(event, zapFields...)
	}
}

func eventFields(fields map[string]any) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func isFailureEvent(event string, fields map[string]any) bool {
	if _, ok := fields["error"]; ok {
		return true
	}
	return strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".aborted") || strings.HasSuffix(event, ".exceeded")
}
