// Package logger builds the structured logger shared by every component of
// the hive-mind core. There is exactly one *logrus.Logger per process; it is
// constructed here and threaded into constructors, never reached through a
// package-level global.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a configured logger instance for the given level/format pair.
// An unrecognized level falls back to Info rather than failing startup.
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	return log
}

// Component scopes a logger to one of the nine core components so every
// line it emits carries a "component" field without callers repeating it.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// WithSwarm scopes a logger entry to a single swarm for the lifetime of a
// coordination call.
func WithSwarm(log *logrus.Logger, swarmID string) *logrus.Entry {
	return log.WithField("swarm_id", swarmID)
}
