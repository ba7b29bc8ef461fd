// Package logging configures the structured event-log sink behind the
// Pipeline Core's LogChannel, using logrus the way
// cmd/pb/main.go in the retrieval pack configures it.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Format selects the logrus formatter.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New builds a logrus.Logger writing to stderr, with level and formatter
// chosen from config rather than hard-coded (generalizing the pack's
// DEBUG-env-var switch into a first-class option).
func New(level string, format Format) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	switch format {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: "15:04:05.999999999"})
	}

	return logger, nil
}
