package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hookgate/pkg/logging"
)

// Logger is the structured logger every component takes. The *Ctx variants
// prepend the correlation fields carried by ctx (request_id, source,
// trace_id).
type Logger interface {
	Info(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error

	DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
}

type SugaredLogger struct {
	*zap.SugaredLogger
}

// redactedKeys never reach the output with their value. Webhook bodies and
// signature material stay out of logs even when a caller passes them.
var redactedKeys = map[string]struct{}{
	"payload":     {},
	"raw_payload": {},
	"body":        {},
	"signature":   {},
	"secret":      {},
	"secrets":     {},
	"api_key":     {},
}

const redacted = "[redacted]"

type redactingCore struct {
	zapcore.Core
}

func redact(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if _, ok := redactedKeys[strings.ToLower(f.Key)]; !ok {
			continue
		}
		if out == nil {
			out = append([]zapcore.Field(nil), fields...)
		}
		out[i] = zap.String(f.Key, redacted)
	}
	if out == nil {
		return fields
	}
	return out
}

func (c redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return redactingCore{c.Core.With(redact(fields))}
}

func (c redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, redact(fields))
}

// New builds the service logger. format is "json" (default) or "console";
// an unknown level falls back to info.
func New(level, format, serviceName string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if format == "console" {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return redactingCore{core}
	}))
	if err != nil {
		return nil, err
	}
	return fromZap(zapLogger, serviceName), nil
}

// NewWithCore wraps an existing core, for tests that inspect log output.
func NewWithCore(core zapcore.Core, serviceName string) Logger {
	return fromZap(zap.New(redactingCore{core}), serviceName)
}

func fromZap(z *zap.Logger, serviceName string) *SugaredLogger {
	if serviceName != "" {
		z = z.With(zap.String(logging.ServiceNameKey, serviceName))
	}
	return &SugaredLogger{SugaredLogger: z.Sugar()}
}

func (l *SugaredLogger) DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, append(logging.GetLogFields(ctx), keysAndValues...)...)
}

func (l *SugaredLogger) InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.Infow(msg, append(logging.GetLogFields(ctx), keysAndValues...)...)
}

func (l *SugaredLogger) WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, append(logging.GetLogFields(ctx), keysAndValues...)...)
}

func (l *SugaredLogger) ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(logging.GetLogFields(ctx), keysAndValues...)...)
}

func NopLogger() Logger {
	return &SugaredLogger{SugaredLogger: zap.NewNop().Sugar()}
}

// Bootstrap is the console logger used before configuration is loaded.
func Bootstrap() Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	z, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return redactingCore{core}
	}))
	if err != nil {
		return NopLogger()
	}
	return &SugaredLogger{SugaredLogger: z.Sugar()}
}
