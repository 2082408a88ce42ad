package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoaderMergesFramesAndEvents(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, _, err := NewWriter(dir, "beta", 10*time.Millisecond, clock)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.SetHeaderMetadata(3, Parameters{"dt": 0.015})

	if _, err := writer.AppendFrame(1, 0.015, []byte("f1")); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	now = now.Add(5 * time.Millisecond)
	if err := writer.AppendEvent(1, 0.015, "pause", []byte(`{"paused":true}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	now = now.Add(20 * time.Millisecond)
	if err := writer.AppendEvent(2, 0.03, "reset_clock", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	now = now.Add(time.Millisecond)
	if _, err := writer.AppendFrame(2, 0, []byte("f2")); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	loader, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loader.Header().Seed != 3 || loader.Manifest().FrameCodec != FrameCodec {
		t.Fatalf("unexpected metadata header=%+v manifest=%+v", loader.Header(), loader.Manifest())
	}

	var sequence []string
	err = loader.Replay(func(entry TimelineEntry) error {
		sequence = append(sequence, fmt.Sprintf("%s:%d:%s", entry.Type, entry.Tick, entry.Payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	expected := []string{
		"frame:1:f1",
		`pause:1:{"paused":true}`,
		"reset_clock:2:",
		"frame:2:f2",
	}
	if !reflect.DeepEqual(sequence, expected) {
		t.Fatalf("unexpected replay order: %v", sequence)
	}
	if loader.FrameCount() != 2 {
		t.Fatalf("expected 2 frames, got %d", loader.FrameCount())
	}

	entries := loader.Entries()
	if &entries[0] == &loader.entries[0] {
		t.Fatalf("Entries must return a copy")
	}
}

func TestLoaderToleratesMissingHeader(t *testing.T) {
	dir := t.TempDir()
	writer, _, err := NewWriter(dir, "crash", 0, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := os.Remove(filepath.Join(writer.Directory(), headerFile)); err != nil {
		t.Fatalf("remove header: %v", err)
	}
	loader, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loader.Header().SchemaVersion != 0 || len(loader.Entries()) != 0 {
		t.Fatalf("expected empty bundle, got header=%+v entries=%d", loader.Header(), len(loader.Entries()))
	}
}

func TestLoaderRejectsBadBundles(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
	dir := t.TempDir()
	manifest := `{"version":1,"frame_codec":"other","events_path":"e","frames_path":"f"}`
	if err := os.WriteFile(filepath.Join(dir, manifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
	var nilLoader *Loader
	if err := nilLoader.Replay(func(TimelineEntry) error { return nil }); err == nil {
		t.Fatalf("expected error from nil loader")
	}
}
