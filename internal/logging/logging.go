// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ayusman/mudra/internal/config"
)

// Logger is a sugared logger plus the resources behind it.
type Logger struct {
	*zap.SugaredLogger
	closers []io.Closer
}

// New builds a logger writing to stderr and, when cfg.File is set, to a
// rotated log file.
func New(cfg config.LogConfig) (*Logger, error) {
	return newWithConsole(cfg, zapcore.Lock(os.Stderr))
}

func newWithConsole(cfg config.LogConfig, console zapcore.WriteSyncer) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var consoleEnc zapcore.Encoder
	if cfg.Development {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(ec)
	} else {
		consoleEnc = zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEnc, console, level)}
	l := &Logger{}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(rotator), level))
		l.closers = append(l.closers, rotator)
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	l.SugaredLogger = zap.New(zapcore.NewTee(cores...), opts...).Sugar()
	return l, nil
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	_ = l.Sync() // stderr returns EINVAL on some platforms
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
