package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	log := New(Config{Level: "debug", Format: "json"})
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSONFormatter, got %T", log.Formatter)
	}
}

func TestNewDefaultsToTextFormatter(t *testing.T) {
	log := New(Config{Level: "info", Format: "text"})
	if _, ok := log.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected TextFormatter, got %T", log.Formatter)
	}
}

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	log := New(Config{Level: "not-a-level", Format: "text"})
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected fallback level info, got %s", log.GetLevel())
	}
}

func TestNewFromEnvDefaults(t *testing.T) {
	log := NewFromEnv()
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected default level info, got %s", log.GetLevel())
	}
}

func TestNewFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")

	log := NewFromEnv()
	if log.GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected level warn, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSONFormatter, got %T", log.Formatter)
	}
}

func TestWithFieldsEmitsGivenFields(t *testing.T) {
	log := New(Config{Level: "info", Format: "json"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithFields(logrus.Fields{"service": "accounts-proxy"}).Info("starting")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if decoded["service"] != "accounts-proxy" {
		t.Fatalf("expected service field, got %v", decoded)
	}
}
