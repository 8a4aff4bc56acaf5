package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupEmitsStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	path := filepath.Join(dir, "escrowd.log")
	logger, closer := SetupWithOptions(Options{Service: "escrowd", Env: "test", Level: "debug", File: path, Output: &buf})
	defer closer.Close()

	logger.Debug("applied", slog.String("type", "deposit"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":  "escrowd",
		"env":      "test",
		"severity": "DEBUG",
		"message":  "applied",
		"type":     "deposit",
	} {
		if line[key] != want {
			t.Fatalf("expected %s=%q, got %v", key, want, line[key])
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp in %v", line)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"applied"`)) {
		t.Fatalf("file sink missing line: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %v", got.Value)
	}
	if got := MaskField("method", "escrow_getLender"); got.Value.String() != "escrow_getLender" {
		t.Fatalf("allowlisted key redacted: %v", got.Value)
	}
}
