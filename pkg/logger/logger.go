package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide structured logger. It is a no-op logger until one
// of the Init functions runs so packages can log unconditionally.
var Log = zap.NewNop()

var sugar = Log.Sugar()

// Options controls how the global logger is built.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // console|json

	// FilePath enables a rotating file sink in addition to stdout.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger from ADSINGEST_LOG_LEVEL and
// ADSINGEST_LOG_FORMAT with stdout output.
func Init() {
	InitWithOptions(Options{
		Level:  os.Getenv("ADSINGEST_LOG_LEVEL"),
		Format: os.Getenv("ADSINGEST_LOG_FORMAT"),
	})
}

// InitWithOptions builds the global logger. An empty level falls back to
// the environment and then to info.
func InitWithOptions(o Options) {
	lvl := strings.TrimSpace(o.Level)
	if lvl == "" {
		lvl = os.Getenv("ADSINGEST_LOG_LEVEL")
	}
	level := parseLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(o.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if o.FilePath != "" {
		rot := &lumberjack.Logger{
			Filename:   o.FilePath,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   o.Compress,
		}
		// file output is always json so it can be shipped as-is
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rot), level))
	}

	Set(zap.New(zapcore.NewTee(cores...), zap.AddCaller()))
}

// Set replaces the global logger. Tests use it with zaptest/observer cores.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	Log = l
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}

// Debug logs with key/value pairs.
func Debug(msg string, kv ...any) {
	sugar.Debugw(msg, kv...)
}

// Info logs with key/value pairs.
func Info(msg string, kv ...any) {
	sugar.Infow(msg, kv...)
}

// Warn logs with key/value pairs.
func Warn(msg string, kv ...any) {
	sugar.Warnw(msg, kv...)
}

// Error logs with key/value pairs.
func Error(msg string, kv ...any) {
	sugar.Errorw(msg, kv...)
}
