package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type testStringer string

func (s testStringer) String() string { return string(s) }

func TestInitAndLoggingToFile(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "nested", "genbench.log")

	var console bytes.Buffer
	if err := Init(logPath, WithLevel("debug"), WithConsole(&console)); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close()
	})

	LogEvent("hello %s", "world")
	Debugf("debug %d", 7)
	LogRequest("genbench->llm", "http://h", "tiny", map[string]any{"n_predict": 3})
	_ = Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 JSON lines, got %d: %s", len(lines), data)
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("log file must hold JSON lines: %v", err)
	}
	if first["message"] != "hello world" || first["level"] != "info" {
		t.Fatalf("unexpected first entry: %v", first)
	}
	if !strings.Contains(lines[2], `"model":"tiny"`) || !strings.Contains(lines[2], `n_predict`) {
		t.Fatalf("expected request fields, got: %s", lines[2])
	}
	if !strings.Contains(console.String(), "hello world") {
		t.Fatalf("expected console output, got: %s", console.String())
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "info.log")
	if err := Init(logPath, WithLevel("info"), WithConsole(nil)); err != nil {
		t.Fatal(err)
	}
	Debugf("hidden")
	Warnf("shown")
	_ = Close()

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("unexpected log content: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{"DEBUG": zerolog.DebugLevel, "warning": zerolog.WarnLevel, "error": zerolog.ErrorLevel, "": zerolog.InfoLevel, "loud": zerolog.InfoLevel}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v want %v", in, got, want)
		}
	}
}

func TestBuildRequestMessageDefaults(t *testing.T) {
	msg := buildRequestMessage(" in ", " ", "", map[string]any{"ok": true})
	if !strings.Contains(msg, "[IN]") {
		t.Fatalf("expected uppercased direction, got: %s", msg)
	}
	if !strings.Contains(msg, "host=unknown") {
		t.Fatalf("expected default host, got: %s", msg)
	}
	if !strings.Contains(msg, "model=unknown") {
		t.Fatalf("expected default model, got: %s", msg)
	}
	if !strings.Contains(msg, "payload={\"ok\":true}") {
		t.Fatalf("expected payload json, got: %s", msg)
	}
}

func TestFormatPayloadVariants(t *testing.T) {
	if got := formatPayload(nil); got != "null" {
		t.Fatalf("nil payload: %s", got)
	}
	if got := formatPayload(" "); got != `""` {
		t.Fatalf("empty string payload: %s", got)
	}
	if got := formatPayload([]byte("hi")); got != "hi" {
		t.Fatalf("byte payload: %s", got)
	}
	if got := formatPayload(testStringer("ok")); got != "ok" {
		t.Fatalf("stringer payload: %s", got)
	}
}

func TestInitDiscard(t *testing.T) {
	if err := Init("", WithConsole(nil)); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() { _ = Init("", WithConsole(os.Stderr)) })
	LogEvent("discard")
	if Logger().GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level by default")
	}
}
