// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Package observability builds the zap loggers used by the spdy commands.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig selects log level, format and an optional rotating log file.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json

	// File, if set, additionally receives JSON logs. Rotation follows
	// lumberjack: MaxSize in megabytes, MaxAge in days.
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// DefaultLoggerConfig logs at info level to the console.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		Format:     "console",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// NewLogger builds a logger writing to console, and to cfg.File if set.
// An unknown level falls back to info.
func NewLogger(cfg LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), console, level)}
	if cfg.File != "" {
		// lumberjack handles file rotation and thread-safe writes.
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), fileWriter, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
}

// NewStderrLogger is NewLogger writing console output to stderr.
func NewStderrLogger(cfg LoggerConfig) *zap.Logger {
	return NewLogger(cfg, zapcore.Lock(os.Stderr))
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}
