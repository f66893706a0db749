package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide logger. Output is JSON when stderr is
// not a terminal (container/systemd capture), text otherwise; level comes
// from the shared config.
func NewLogger(levelName string) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	lg.SetLevel(level)

	if fi, ferr := os.Stderr.Stat(); ferr == nil && (fi.Mode()&os.ModeCharDevice) == 0 {
		lg.SetFormatter(&logrus.JSONFormatter{})
	} else {
		lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return lg
}

// WithComponent returns a logger entry tagged with the owning component,
// e.g. "cartographer", "ingestor:history", "auditor:worker-3".
func WithComponent(lg *logrus.Logger, component string) *logrus.Entry {
	return lg.WithField("component", component)
}
