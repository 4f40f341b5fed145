package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Info("posted", "journal", "JRNL-00001")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["journal"] != "JRNL-00001" {
		t.Fatalf("unexpected attrs: %v", line)
	}

	buf.Reset()
	logger := newLogger(&Config{LogFormat: "pretty", AppEnv: "production"}, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}

	buf.Reset()
	newLogger(&Config{AppEnv: "development"}, &buf).Debug("verbose")
	if !strings.Contains(buf.String(), "msg=verbose") {
		t.Fatalf("expected debug output in development, got %q", buf.String())
	}
}
