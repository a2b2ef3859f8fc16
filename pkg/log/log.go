/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package log contains the logging subsystem of the node cycler
package log

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
)

// Log level strings exposed through the --log-level flag
const (
	ErrorLevelString   = "error"
	WarningLevelString = "warning"
	InfoLevelString    = "info"
	DebugLevelString   = "debug"
	TraceLevelString   = "trace"

	// DefaultLevelString is the level used when nothing is specified
	DefaultLevelString = InfoLevelString
)

// Log levels mapped to the zap ones. Warning and trace have no direct
// zap counterpart and are expressed as custom levels
const (
	ErrorLevel   = zapcore.ErrorLevel
	WarningLevel = zapcore.WarnLevel
	InfoLevel    = zapcore.InfoLevel
	DebugLevel   = zapcore.DebugLevel
	TraceLevel   = zapcore.Level(-2)

	// DefaultLevel is the level used when nothing is specified
	DefaultLevel = InfoLevel
)

// Log is the logger used in this package
var Log logr.Logger = logr.Discard()

// SetLogger will set the backing logr implementation for the cycler
func SetLogger(logger logr.Logger) {
	Log = logger
}

// Info logs a message at info level using the package logger
func Info(msg string, keysAndValues ...interface{}) {
	Log.Info(msg, keysAndValues...)
}

// Warning logs a message at warning level using the package logger.
// logr has no warning severity, so the level is carried as a value
func Warning(msg string, keysAndValues ...interface{}) {
	Log.Info(msg, append([]interface{}{"severity", WarningLevelString}, keysAndValues...)...)
}

// Debug logs a message at debug level using the package logger
func Debug(msg string, keysAndValues ...interface{}) {
	Log.V(1).Info(msg, keysAndValues...)
}

// Error logs an error message using the package logger
func Error(err error, msg string, keysAndValues ...interface{}) {
	Log.Error(err, msg, keysAndValues...)
}
