// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gitlab.com/hydranet/core/stake.core/corelog"
)

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers derive from it, so every subsystem writes to the same
// sinks with its own unit tag.  Call SetupLoggers early during startup to
// rebuild the backend from the operator's log configuration.
var (
	backendLog = NewLogger(corelog.Config{}.Default(), zapcore.InfoLevel)

	NodeLog  = backendLog.With(zap.String("app.unit", "NODE"))
	PoolLog  = backendLog.With(zap.String("app.unit", "POOL"))
	MinrLog  = backendLog.With(zap.String("app.unit", "MINR"))
	StakeLog = backendLog.With(zap.String("app.unit", "STAK"))
	GovLog   = backendLog.With(zap.String("app.unit", "GOVN"))
	EconLog  = backendLog.With(zap.String("app.unit", "ECON"))
	DelegLog = backendLog.With(zap.String("app.unit", "DELG"))
)

// NewLogger builds a zap logger writing to the sinks described by the
// corelog configuration.
func NewLogger(cfg corelog.Config, level zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if cfg.LogsAsJson {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(corelog.Output(cfg)), level)
	return zap.New(core)
}

// SetupLoggers rebuilds the backend and every subsystem logger from the
// operator configuration.  debugLevel accepts the usual level names; an
// unknown name is an error and leaves the loggers untouched.
func SetupLoggers(cfg corelog.Config, debugLevel string) error {
	level, err := ParseDebugLevel(debugLevel)
	if err != nil {
		return err
	}

	backendLog = NewLogger(cfg, level)
	NodeLog = backendLog.With(zap.String("app.unit", "NODE"))
	PoolLog = backendLog.With(zap.String("app.unit", "POOL"))
	MinrLog = backendLog.With(zap.String("app.unit", "MINR"))
	StakeLog = backendLog.With(zap.String("app.unit", "STAK"))
	GovLog = backendLog.With(zap.String("app.unit", "GOVN"))
	EconLog = backendLog.With(zap.String("app.unit", "ECON"))
	DelegLog = backendLog.With(zap.String("app.unit", "DELG"))
	return nil
}

// ParseDebugLevel maps a level name to its zap level.
func ParseDebugLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "critical", "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown debug level %q", name)
	}
}
