package logutil_test

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/filen-community/filen-webdav/internal/logutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := logutil.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logutil.New(&buf, slog.LevelWarn)
	log.Info("quiet")
	log.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info line emitted below configured level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn line missing")
	}
}

func TestNoopIfNil(t *testing.T) {
	if logutil.NoopIfNil(nil) == nil {
		t.Fatal("nil logger not replaced")
	}
	log := logutil.New(io.Discard, slog.LevelInfo)
	if logutil.NoopIfNil(log) != log {
		t.Fatal("non-nil logger replaced")
	}
}

func TestRotatingWriterRotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webdav.log")
	w, err := logutil.NewRotatingWriter(path, 64, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 6; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatal(err)
		}
		// Segment names are timestamped to the millisecond.
		time.Sleep(2 * time.Millisecond)
	}

	segments, err := filepath.Glob(path + ".*.gz")
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) == 0 {
		t.Fatal("no rotated segments produced")
	}
	if len(segments) > 2 {
		t.Fatalf("prune kept %d segments, want at most 2", len(segments))
	}

	f, err := os.Open(segments[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("segment is not gzip: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "xxxx") {
		t.Error("compressed segment lost log content")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("live file missing after rotation: %v", err)
	}
	if info.Size() == 0 {
		t.Error("live file empty after rotation")
	}
}

func TestRotatingWriterReopenAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webdav.log")
	w, err := logutil.NewRotatingWriter(path, 1<<20, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("one\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("two\n")); err != nil {
		t.Fatalf("write after close should reopen: %v", err)
	}
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Fatalf("file content = %q", data)
	}
}
