package logging_test

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/blockpack/blockpack/internal/logging"
)

func TestNew_TextFormat(t *testing.T) {
	logger, err := logging.New("info", logging.FormatText)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("formatter = %T, want *logrus.TextFormatter", logger.Formatter)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	logger, err := logging.New("debug", logging.FormatJSON)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Level.String() != "debug" {
		t.Fatalf("level = %s, want debug", logger.Level)
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("formatter = %T, want *logrus.JSONFormatter", logger.Formatter)
	}
}

func TestNew_InvalidLevelErrors(t *testing.T) {
	if _, err := logging.New("not-a-level", logging.FormatText); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
