package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"json to stdout", &Config{Level: WarnLevel, Format: JSONFormat, Output: StdoutOutput}, false},
		{"warning alias", &Config{Level: "WARNING", Format: TextFormat, Output: StderrOutput}, false},
		{"bad level", &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"writer overrides output", &Config{Level: InfoLevel, Format: JSONFormat, Writer: &bytes.Buffer{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDerivedLoggersKeepFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Writer: &buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.WithComponent("matcher").
		WithField("invoice_id", "inv-1").
		WithError(errors.New("boom")).
		Info("evaluated")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
	if entry["component"] != "matcher" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["invoice_id"] != "inv-1" {
		t.Errorf("expected invoice_id field, got %v", entry["invoice_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewLogger(&Config{Level: InfoLevel, Format: TextFormat, Writer: &buf})

	tracker := NewProgressTracker(ProgressConfig{Operation: "evaluate", Total: 3, Logger: log})
	tracker.Increment(false)
	tracker.Increment(true)
	tracker.Increment(false)
	tracker.Complete()

	for _, want := range []string{"Operation completed with failures", "processed=3", "failed=1", "total=3"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in log, got %q", want, buf.String())
		}
	}
}

func TestTimedOperation(t *testing.T) {
	want := errors.New("failed")
	if got := TimedOperation("load", NewNopLogger(), func() error { return want }); got != want {
		t.Errorf("expected error to pass through, got %v", got)
	}
	if err := TimedOperation("load", NewNopLogger(), func() error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
