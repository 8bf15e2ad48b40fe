// Package logging carries the scheduler's severity vocabulary on top of zap.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityAction  Severity = "ACTION"
	SeveritySuccess Severity = "SUCCESS"
)

// level maps a severity onto a zap level. ACTION and SUCCESS are advisory
// info lines distinguished only by the severity field.
func (s Severity) level() zapcore.Level {
	switch s {
	case SeverityDebug:
		return zapcore.DebugLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type Logger struct {
	z *zap.Logger
}

func New(cfg Config) (*Logger, error) {
	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "console", "text":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	z, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

func Wrap(z *zap.Logger) *Logger { return &Logger{z: z} }

func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) Zap() *zap.Logger { return l.z }

func (l *Logger) Named(name string) *Logger { return &Logger{z: l.z.Named(name)} }

func (l *Logger) With(fields ...zap.Field) *Logger { return &Logger{z: l.z.With(fields...)} }

// Log writes msg at the given severity. It never affects control flow.
func (l *Logger) Log(msg string, sev Severity, fields ...zap.Field) {
	if ce := l.z.Check(sev.level(), msg); ce != nil {
		ce.Write(append(fields, zap.String("severity", string(sev)))...)
	}
}

func (l *Logger) Debug(msg string, fields ...zap.Field)   { l.Log(msg, SeverityDebug, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)    { l.Log(msg, SeverityInfo, fields...) }
func (l *Logger) Warning(msg string, fields ...zap.Field) { l.Log(msg, SeverityWarning, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field)   { l.Log(msg, SeverityError, fields...) }
func (l *Logger) Action(msg string, fields ...zap.Field)  { l.Log(msg, SeverityAction, fields...) }
func (l *Logger) Success(msg string, fields ...zap.Field) { l.Log(msg, SeveritySuccess, fields...) }

func (l *Logger) Sync() error { return l.z.Sync() }
