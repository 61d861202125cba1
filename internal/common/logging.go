package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const loggerName = "eftgate"

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(newLogger(zapcore.Lock(zapcore.AddSync(os.Stderr)), zapcore.InfoLevel, false))
}

// LogConfig controls the daemon log sinks. Directory empty means stdout only.
type LogConfig struct {
	Directory  string `koanf:"directory" yaml:"directory"`
	FileName   string `koanf:"file_name" yaml:"fileName"`
	Level      string `koanf:"level" yaml:"level"`
	JSON       bool   `koanf:"json" yaml:"json"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"maxSizeMB"`
	MaxAgeDays int    `koanf:"max_age_days" yaml:"maxAgeDays"`
	MaxBackups int    `koanf:"max_backups" yaml:"maxBackups"`
	Compress   bool   `koanf:"compress" yaml:"compress"`
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.Level, asJSON bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if asJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, ws, level)).Named(loggerName)
}

// SetupLogging routes the package logger to stdout and, when a directory is
// configured, to a size-rotated log file. The returned func flushes and
// closes the sinks.
func SetupLogging(cfg LogConfig) (func() error, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(zapcore.AddSync(os.Stdout))}
	var rotator *lumberjack.Logger
	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.FileName
		if name == "" {
			name = "eftd.log"
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
	}
	l := newLogger(zapcore.NewMultiWriteSyncer(sinks...), level, cfg.JSON)
	SetLogger(l)
	return func() error {
		_ = l.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}, nil
}

// SetLevelOutput routes the package logger to w at the named level.
func SetLevelOutput(w io.Writer, level string) error {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	SetLogger(newLogger(zapcore.Lock(zapcore.AddSync(w)), l, false))
	return nil
}

// SetOutput redirects the package logger to w at debug level. Useful for tests.
func SetOutput(w io.Writer) {
	SetLogger(newLogger(zapcore.AddSync(w), zapcore.DebugLevel, false))
}

// SetLogger replaces the package logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Logger returns the structured logger.
func Logger() *zap.Logger {
	return logger.Load()
}

func Logf(format string, args ...interface{}) {
	logger.Load().Sugar().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Load().Sugar().Warnf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Load().Sugar().Debugf(format, args...)
}
