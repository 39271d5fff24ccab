package main

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/fleetctl/internal/config"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestArchiveSources(t *testing.T) {
	cfg := &config.Config{
		Log:   config.LogConfig{Path: "data/log.txt", FailurePath: "data/fail_log.txt"},
		Store: config.StoreConfig{Path: "data/fleet.db"},
	}
	src := archiveSources(cfg)

	want := map[string]string{
		"logs/log.txt":       "data/log.txt",
		"logs/fail_log.txt":  "data/fail_log.txt",
		"store/fleet.db":     "data/fleet.db",
		"store/fleet.db-wal": "data/fleet.db-wal",
		"store/fleet.db-shm": "data/fleet.db-shm",
	}
	if len(src) != len(want) {
		t.Fatalf("expected %d sources, got %d: %v", len(want), len(src), src)
	}
	for name, p := range want {
		if src[name] != p {
			t.Errorf("source %s = %q, want %q", name, src[name], p)
		}
	}
}

func TestWriteArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.txt")
	dbPath := filepath.Join(dir, "fleet.db")
	if err := os.WriteFile(logPath, []byte("level=INFO msg=heartbeat\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dbPath, []byte("sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out.tar.zst")
	n, size, err := writeArchive(out, map[string]string{
		"logs/log.txt":      logPath,
		"logs/fail_log.txt": filepath.Join(dir, "missing.txt"),
		"store/fleet.db":    dbPath,
	})
	if err != nil {
		t.Fatalf("writeArchive: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 files, got %d", n)
	}
	if size == 0 {
		t.Error("expected non-empty archive")
	}

	names, err := listArchive(out)
	if err != nil {
		t.Fatalf("listArchive: %v", err)
	}
	if !slices.Equal(names, []string{"logs/log.txt", "store/fleet.db"}) {
		t.Errorf("unexpected entries %v", names)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	if _, err := tr.Next(); err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "level=INFO msg=heartbeat\n" {
		t.Errorf("unexpected log contents %q", data)
	}
}
