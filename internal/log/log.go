// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log provides the structured logging facade used across
// blockwatch. Its shape is carried over from the teacher's log/compat.go
// (package-level Trace/Debug/Info/Warn/Error/Crit, a Logger type) but is
// backed by go.uber.org/zap instead of the teacher's private, unfetchable
// github.com/luxfi/log; levels are zapcore.Level values, with no level
// constants of its own.
package log

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the interface business code logs through. chain_id and other
// structured fields are passed as alternating key/value pairs, matching
// the teacher's ctx ...interface{} convention.
type Logger interface {
	Trace(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Crit(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Trace(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Crit(msg string, kv ...interface{}) {
	l.s.Errorw(msg, kv...)
	os.Exit(1)
}
func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

var defaultLogger Logger = New(Options{Level: zapcore.InfoLevel, Color: isatty.IsTerminal(os.Stderr.Fd())})

// Options configures the default logger's sinks.
type Options struct {
	Level zapcore.Level
	Color bool
	// File, when non-empty, additionally writes JSON-encoded records to
	// a rotating file via lumberjack, matching the teacher's pairing of
	// a terminal handler with a file handler.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a Logger from Options. The terminal sink uses a colorable
// writer when Color is set and the teacher's console encoding
// conventions (capital level, ISO8601 time); the optional file sink is
// always JSON so it stays machine-parseable after rotation.
func New(opts Options) Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var consoleWriter zapcore.WriteSyncer
	if opts.Color {
		consoleWriter = zapcore.AddSync(colorable.NewColorableStderr())
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleWriter = zapcore.AddSync(os.Stderr)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), consoleWriter, opts.Level),
	}

	if opts.File != "" {
		fileEncoderCfg := zap.NewProductionEncoderConfig()
		fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    nonZero(opts.MaxSizeMB, 100),
			MaxBackups: nonZero(opts.MaxBackups, 5),
			MaxAge:     nonZero(opts.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), zapcore.AddSync(rotator), opts.Level))
	}

	core := zapcore.NewTee(cores...)
	return &zapLogger{s: zap.New(core).Sugar()}
}

func nonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// SetDefault replaces the package-level default logger.
func SetDefault(l Logger) { defaultLogger = l }

// Root returns the package-level default logger.
func Root() Logger { return defaultLogger }

func Trace(msg string, kv ...interface{}) { defaultLogger.Trace(msg, kv...) }
func Debug(msg string, kv ...interface{}) { defaultLogger.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { defaultLogger.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { defaultLogger.Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { defaultLogger.Error(msg, kv...) }
func Crit(msg string, kv ...interface{})  { defaultLogger.Crit(msg, kv...) }

// LevelFromString parses a level name the same way the teacher's
// LvlFromString helper does, for use by config flags.
func LevelFromString(s string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}
