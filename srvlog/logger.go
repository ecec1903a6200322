// Package srvlog wraps go.uber.org/zap behind the verbosity levels
// spec.md §6 names (None…All), a structured replacement for a bare
// ErrorLog hook: every log site here is advisory only (§7 — no log
// line is load-bearing for correctness).
package srvlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity mirrors the configuration option of the same name in
// spec.md §6.
type Verbosity int

const (
	None Verbosity = iota
	Critical
	Warning
	Info
	Debug
	All
)

func (v Verbosity) zapLevel() zapcore.Level {
	switch v {
	case Critical:
		return zapcore.ErrorLevel
	case Warning:
		return zapcore.WarnLevel
	case Info:
		return zapcore.InfoLevel
	case Debug, All:
		return zapcore.DebugLevel
	default:
		return zapcore.FatalLevel + 1 // above all real levels: nothing logs
	}
}

// New builds a *zap.Logger gated at the given verbosity. None
// installs a no-op core so the logging path costs nothing at the
// default verbosity.
func New(v Verbosity) *zap.Logger {
	if v == None {
		return zap.NewNop()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(v.zapLevel())
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
