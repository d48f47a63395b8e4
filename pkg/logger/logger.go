// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// FileOptions configures the optional rotating file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New creates a new structured logger writing JSON to stdout.
func New(level string) (*Logger, error) {
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewWithFile creates a logger that writes JSON to stdout and to a rotating
// file. An empty path behaves like New.
func NewWithFile(level string, file FileOptions) (*Logger, error) {
	if file.Path == "" {
		return New(level)
	}

	enc := zapcore.NewJSONEncoder(encoderConfig())
	lvl := zap.NewAtomicLevelAt(parseLevel(level))
	rotator := &lumberjack.Logger{
		Filename: file.Path,
		MaxSize:  file.MaxSizeMB,
		MaxAge:   file.MaxAgeDays,
		Compress: file.Compress,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl),
		zapcore.NewCore(enc, zapcore.AddSync(rotator), lvl),
	)

	return &Logger{Logger: zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))}, nil
}

// NewDevelopment creates a development logger with pretty output.
func NewDevelopment() (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithRequest creates a child logger carrying request scoped fields.
func (l *Logger) WithRequest(correlationID, chatID, externalID string) *Logger {
	return l.With(
		zap.String("correlation_id", correlationID),
		zap.String("chat_id", chatID),
		zap.String("external_id", externalID),
	)
}

// Redact masks a secret, keeping only enough of it to tell values apart.
func Redact(secret string) string {
	switch n := len(secret); {
	case n == 0:
		return ""
	case n <= 8:
		return "***"
	default:
		return secret[:4] + "***" + secret[n-2:]
	}
}

// Preview collapses whitespace and truncates s to at most max bytes,
// appending a marker with the number of bytes dropped.
func Preview(s string, max int) string {
	collapsed := strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	return Truncate(collapsed, max)
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
// A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…[+" + strconv.Itoa(len(s)-cut) + "b]"
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
