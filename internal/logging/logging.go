// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options describes where and how to log.
type Options struct {
	Level      string // debug, info, warn, error, fatal
	File       string // rotated file; stdout when empty
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Pretty     bool
}

// New builds a logger from opts.
func New(opts Options) *logrus.Logger {
	return configure(logrus.New(), opts)
}

// Init configures the standard logrus logger, which every component
// falls back to, and returns it.
func Init(opts Options) *logrus.Logger {
	return configure(logrus.StandardLogger(), opts)
}

func configure(logger *logrus.Logger, opts Options) *logrus.Logger {
	logger.SetReportCaller(true)
	logger.SetFormatter(&logrus.JSONFormatter{PrettyPrint: opts.Pretty})
	logger.SetOutput(output(opts))
	logger.SetLevel(ParseLevel(opts.Level))
	return logger
}

// SetLevel changes the level of logger at runtime.
func SetLevel(logger *logrus.Logger, level string) {
	logger.SetLevel(ParseLevel(level))
}

// ParseLevel maps a run mode to a level. Unknown values mean info.
func ParseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "fatal":
		return logrus.FatalLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}

func output(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stdout
	}
	l := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	if l.MaxSize <= 0 {
		l.MaxSize = 500
	}
	return l
}
