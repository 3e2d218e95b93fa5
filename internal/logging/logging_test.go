package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := Console(&buf, false)

	logger.Info("Syncing repository", "dir", "/opt/hetzner-web")
	logger.Debug("hidden detail")

	out := buf.String()
	if !strings.Contains(out, "Syncing repository") || !strings.Contains(out, "/opt/hetzner-web") {
		t.Errorf("console output = %q", out)
	}
	if strings.Contains(out, "hidden detail") {
		t.Error("debug message logged without verbose")
	}

	buf.Reset()
	Console(&buf, true).Debug("shown detail")
	if !strings.Contains(buf.String(), "shown detail") {
		t.Error("debug message missing with verbose")
	}
}

func TestJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "hzinstall.log")
	var console bytes.Buffer

	logger, file, err := JSON(logPath, &console)
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	logger.Info("Webhook received", "branch", "main")
	file.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if entry["msg"] != "Webhook received" || entry["branch"] != "main" {
		t.Errorf("entry = %v", entry)
	}
	if !bytes.Equal(console.Bytes(), data) {
		t.Errorf("console copy = %q, want %q", console.String(), data)
	}

	info, _ := os.Stat(logPath)
	if info.Mode().Perm()&0004 != 0 {
		t.Errorf("log file is world-readable: %v", info.Mode())
	}
}

func TestJSON_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, file, err := JSON("", &console)
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if file != nil {
		t.Error("JSON() opened a file without a path")
	}
	logger.Info("Starting HTTP server")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(console.Bytes()), &entry); err != nil {
		t.Fatalf("console line is not JSON: %v", err)
	}
	if entry["msg"] != "Starting HTTP server" {
		t.Errorf("entry = %v", entry)
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing happens")
}
