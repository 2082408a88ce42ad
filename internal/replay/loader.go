package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// FrameEntryType marks timeline entries that carry an encoded snapshot frame.
const FrameEntryType = "frame"

// TimelineEntry is a single captured datum in playback order.
type TimelineEntry struct {
	Tick          uint64
	SimulatedTime float64
	CapturedAt    time.Time
	Type          string
	Payload       []byte
}

// Loader reads a capture bundle written by Writer.
type Loader struct {
	dir      string
	manifest Manifest
	header   Header
	entries  []TimelineEntry
}

// Load reads the manifest, header, frames and events of the bundle in dir. A
// bundle without a header (capture interrupted before Close) still loads.
func Load(dir string) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}

	//1.- The manifest names the artefacts.
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.FrameCodec != "" && manifest.FrameCodec != FrameCodec {
		return nil, fmt.Errorf("unsupported frame codec %q", manifest.FrameCodec)
	}

	loader := &Loader{dir: dir, manifest: manifest}
	header, err := ReadHeader(filepath.Join(dir, headerFile))
	switch {
	case err == nil:
		loader.header = header
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read header: %w", err)
	}

	//2.- Frames and events are merged into one timeline.
	frames, err := readFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, err
	}
	events, err := readEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	entries := append(frames, events...)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Tick != entries[j].Tick {
			return entries[i].Tick < entries[j].Tick
		}
		return entries[i].CapturedAt.Before(entries[j].CapturedAt)
	})
	loader.entries = entries
	return loader, nil
}

func readFrames(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	defer file.Close()
	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("frame reader: %w", err)
	}
	defer reader.Close()

	var entries []TimelineEntry
	var header [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		size := binary.LittleEndian.Uint32(header[24:28])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Tick:          binary.LittleEndian.Uint64(header[0:8]),
			SimulatedTime: math.Float64frombits(binary.LittleEndian.Uint64(header[8:16])),
			CapturedAt:    time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
			Type:          FrameEntryType,
			Payload:       payload,
		})
	}
}

func readEvents(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	var entries []TimelineEntry
	scanner := bufio.NewScanner(snappy.NewReader(file))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record eventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse event captured_at: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Tick:          record.Tick,
			SimulatedTime: record.SimulatedTime,
			CapturedAt:    captured,
			Type:          record.Type,
			Payload:       payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return entries, nil
}

// Manifest returns the bundle manifest.
func (l *Loader) Manifest() Manifest {
	if l == nil {
		return Manifest{}
	}
	return l.manifest
}

// Header returns the bundle header; it is zero when the capture was interrupted.
func (l *Loader) Header() Header {
	if l == nil {
		return Header{}
	}
	return l.header
}

// Replay iterates over the loaded entries in timeline order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns a copy of the timeline.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// FrameCount returns how many frames the bundle holds.
func (l *Loader) FrameCount() int {
	if l == nil {
		return 0
	}
	count := 0
	for _, entry := range l.entries {
		if entry.Type == FrameEntryType {
			count++
		}
	}
	return count
}
