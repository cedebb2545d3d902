// Package log provides the process-wide structured logger.
package log

import (
	"sync"

	"firestige.xyz/zwiftmon/internal/config"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger = newDefault()
)

// GetLogger returns the current global logger. It is never nil.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the global logger with one built from cfg.
func Init(cfg config.LogConfig) error {
	l, err := initByConfig(cfg)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger swaps the global logger, mostly for tests.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}
