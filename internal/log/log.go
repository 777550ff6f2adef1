// Package log provides the process logger, a logrus adapter behind a small
// interface.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"firestige.xyz/lowpan/internal/config"
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

const (
	defaultPattern = "%time [%level] %field %msg"
	defaultTime    = "2006-01-02 15:04:05.000"
)

var (
	once   sync.Once
	mu     sync.RWMutex
	logger Logger = newLogrusAdapter(config.LogConfig{Level: "info"}, NewMultiWriter().Add(os.Stdout))
)

// GetLogger returns the process logger. Before Init it logs at info level
// to stdout.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init configures the process logger once; later calls are no-ops.
func Init(cfg config.LogConfig) error {
	if _, err := logrus.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	once.Do(func() {
		out := NewMultiWriter().Add(os.Stdout)
		if cfg.File.Enabled {
			out.AddFileAppender(cfg.File)
		}
		l := newLogrusAdapter(cfg, out)
		mu.Lock()
		logger = l
		mu.Unlock()
	})
	return nil
}
