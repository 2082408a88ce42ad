// Package replayplayer summarises capture bundles for offline inspection.
package replayplayer

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cinder/internal/networking"
	"cinder/internal/replay"
)

// Event is a control event as recorded by the host.
type Event struct {
	Tick          uint64    `json:"tick"`
	SimulatedTime float64   `json:"simulated_time"`
	CapturedAt    time.Time `json:"captured_at"`
	Type          string    `json:"type"`
	Payload       string    `json:"payload,omitempty"`
}

// FrameSummary condenses one captured frame.
type FrameSummary struct {
	Tick          uint64    `json:"tick"`
	SimulatedTime float64   `json:"simulated_time"`
	CapturedAt    time.Time `json:"captured_at"`
	Particles     int       `json:"particles"`
	MaxHeight     float64   `json:"max_height"`
	MeanAge       float64   `json:"mean_age"`
	Grounded      int       `json:"grounded"`
}

// Summary is the inspection view of a bundle.
type Summary struct {
	Directory string          `json:"directory"`
	Manifest  replay.Manifest `json:"manifest"`
	Header    replay.Header   `json:"header"`
	Events    []Event         `json:"events"`
	Frames    []FrameSummary  `json:"frames"`
}

// ResolveBundle accepts a bundle directory or its manifest.json path.
func ResolveBundle(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return path, nil
	}
	return filepath.Dir(path), nil
}

// Summarize loads a bundle and condenses every frame.
func Summarize(path string) (Summary, error) {
	dir, err := ResolveBundle(path)
	if err != nil {
		return Summary{}, err
	}
	loader, err := replay.Load(dir)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Directory: dir, Manifest: loader.Manifest(), Header: loader.Header()}
	err = loader.Replay(func(entry replay.TimelineEntry) error {
		if entry.Type != replay.FrameEntryType {
			summary.Events = append(summary.Events, Event{
				Tick:          entry.Tick,
				SimulatedTime: entry.SimulatedTime,
				CapturedAt:    entry.CapturedAt,
				Type:          entry.Type,
				Payload:       string(entry.Payload),
			})
			return nil
		}
		frame, err := networking.DecodeFrame(entry.Payload)
		if err != nil {
			return fmt.Errorf("frame at tick %d: %w", entry.Tick, err)
		}
		summary.Frames = append(summary.Frames, summarizeFrame(frame, entry.CapturedAt))
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func summarizeFrame(frame networking.Frame, captured time.Time) FrameSummary {
	out := FrameSummary{
		Tick:          frame.Tick,
		SimulatedTime: frame.SimulatedTime,
		CapturedAt:    captured,
		Particles:     len(frame.Particles),
	}
	if out.Particles == 0 {
		return out
	}
	maxHeight := math.Inf(-1)
	var ageSum float64
	for _, p := range frame.Particles {
		maxHeight = math.Max(maxHeight, p.Position.Y)
		ageSum += p.Age
		if p.Position.Y == 0 {
			out.Grounded++
		}
	}
	out.MaxHeight = maxHeight
	out.MeanAge = ageSum / float64(out.Particles)
	return out
}

// FrameAt decodes the captured frame with the given tick.
func FrameAt(path string, tick uint64) (networking.Frame, error) {
	dir, err := ResolveBundle(path)
	if err != nil {
		return networking.Frame{}, err
	}
	loader, err := replay.Load(dir)
	if err != nil {
		return networking.Frame{}, err
	}
	for _, entry := range loader.Entries() {
		if entry.Type == replay.FrameEntryType && entry.Tick == tick {
			return networking.DecodeFrame(entry.Payload)
		}
	}
	return networking.Frame{}, fmt.Errorf("no frame captured at tick %d", tick)
}

// CatalogEntry pairs a bundle header with its directory.
type CatalogEntry struct {
	Directory string        `json:"directory"`
	Header    replay.Header `json:"header"`
}

// List walks root and returns every bundle whose header could be read,
// ordered by seed and then directory.
func List(root string) ([]CatalogEntry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []CatalogEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return err
		}
		entries = append(entries, CatalogEntry{Directory: filepath.Dir(path), Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.Seed == entries[j].Header.Seed {
			return entries[i].Directory < entries[j].Directory
		}
		return entries[i].Header.Seed < entries[j].Header.Seed
	})
	return entries, nil
}
