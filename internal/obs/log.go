package obs

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
)

// LogConfig selects level and optional rotated file output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitLogger builds the shared JSON logger. Entries go to stdout and, when
// File is set, to a lumberjack-rotated file as well.
func InitLogger(cfg LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}))
	}

	l := zap.New(zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level), zap.AddCaller())
	SetLogger(l)
	return l
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	return InitLogger(LogConfig{})
}

// SetLogger replaces the shared logger (tests swap in an observer core).
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// LogRequest emits a structured line with common HTTP fields.
func LogRequest(fields ...zap.Field) {
	Logger().Info("request_complete", fields...)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
