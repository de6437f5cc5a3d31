package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTSVHandler(t *testing.T) {
	t.Run("formats one record per line", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(&tsvHandler{w: &buf, opID: "Scan-20260825T120000Z"})

		logger.Info("snapshot captured", "name", "photos", "entries", 42)

		line := strings.TrimSuffix(buf.String(), "\n")
		fields := strings.Split(line, "\t")
		if len(fields) != 6 {
			t.Fatalf("line has %d fields, want 6: %q", len(fields), line)
		}
		if fields[1] != "INFO" {
			t.Errorf("level = %s, want INFO", fields[1])
		}
		if fields[2] != "Scan-20260825T120000Z" {
			t.Errorf("opID = %s", fields[2])
		}
		if fields[3] != "snapshot captured" {
			t.Errorf("message = %s", fields[3])
		}
		if fields[4] != "name=photos" || fields[5] != "entries=42" {
			t.Errorf("attrs = %v", fields[4:])
		}
	})

	t.Run("carries WithAttrs context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(&tsvHandler{w: &buf, opID: "op"}).With("root", "/data")

		logger.Warn("scan completed with errors", "errors", 3)

		line := buf.String()
		if !strings.Contains(line, "root=/data") || !strings.Contains(line, "errors=3") {
			t.Errorf("line missing attrs: %q", line)
		}
		if !strings.Contains(line, "WARN") {
			t.Errorf("line missing level: %q", line)
		}
	})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := &slogAdapter{l: slog.New(&tsvHandler{w: &buf, opID: "op"})}

	adapter.Error("copy failed", "path", "a.txt")

	line := buf.String()
	if !strings.Contains(line, "ERROR") || !strings.Contains(line, "copy failed") || !strings.Contains(line, "path=a.txt") {
		t.Errorf("unexpected line: %q", line)
	}
}
