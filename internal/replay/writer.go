// Package replay captures encoded snapshot frames and host control events to
// disk for offline inspection. Captures are never loaded back into a running
// simulation.
package replay

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var sessionCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// DefaultFrameInterval is the wall-clock spacing between captured frames.
const DefaultFrameInterval = 100 * time.Millisecond

const (
	// FrameCodec names the payload format stored in frames.bin.zst.
	FrameCodec = "cinder.frame.v1"

	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
	manifestFile = "manifest.json"
	headerFile   = "header.json"

	frameHeaderSize = 8 + 8 + 8 + 4
	flushBatch      = 8
)

// ErrWriterClosed is returned when appending to a closed writer.
var ErrWriterClosed = errors.New("replay writer closed")

type frameBlob struct {
	Tick          uint64
	SimulatedTime float64
	CapturedAt    time.Time
	Payload       []byte
}

// Manifest describes the capture bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	FrameCodec      string `json:"frame_codec"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// WriterStats summarises a capture in progress.
type WriterStats struct {
	Frames  int64
	Skipped int64
	Events  int64
	Bytes   int64
}

// Writer streams frames (zstd) and control events (snappy JSONL) into a bundle
// directory. Frames arriving faster than the configured interval are skipped.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	interval    time.Duration
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	lastFrame   time.Time
	seed        int64
	params      Parameters
	stats       WriterStats
	closed      bool
}

// NewWriter prepares the bundle directory under root and opens compressed sinks.
func NewWriter(root, sessionID string, interval time.Duration, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	cleaned := sessionCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(interval / time.Millisecond),
		FrameCodec:      FrameCodec,
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFile), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         path,
		now:         clock,
		interval:    interval,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetHeaderMetadata configures the header persisted when the writer closes.
func (w *Writer) SetHeaderMetadata(seed int64, params Parameters) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.seed = seed
	w.params = params.Clone()
	w.mu.Unlock()
}

// AppendEvent writes one JSON line to the compressed event log.
func (w *Writer) AppendEvent(tick uint64, simulatedTime float64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	record := eventRecord{
		Tick:          tick,
		SimulatedTime: simulatedTime,
		CapturedAt:    captured.Format(time.RFC3339Nano),
		Type:          eventType,
		PayloadB64:    base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.stats.Events++
	return w.eventStream.Flush()
}

// AppendFrame captures an encoded frame when at least the configured interval
// has passed since the previous captured frame. It reports whether the frame
// was kept.
func (w *Writer) AppendFrame(tick uint64, simulatedTime float64, payload []byte) (bool, error) {
	if w == nil {
		return false, fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, ErrWriterClosed
	}
	if !w.lastFrame.IsZero() && captured.Sub(w.lastFrame) < w.interval {
		w.stats.Skipped++
		return false, nil
	}
	w.lastFrame = captured

	//1.- Stage the frame so writes reach the zstd stream in batches.
	w.pending = append(w.pending, frameBlob{
		Tick:          tick,
		SimulatedTime: simulatedTime,
		CapturedAt:    captured,
		Payload:       append([]byte(nil), payload...),
	})
	w.stats.Frames++
	w.stats.Bytes += int64(len(payload))
	if len(w.pending) >= flushBatch {
		if err := w.flushLocked(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Stats returns counters for the capture so far.
func (w *Writer) Stats() WriterStats {
	if w == nil {
		return WriterStats{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Flush forces pending frames to be written regardless of batching.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	return w.flushLocked()
}

// Close writes the header, flushes all buffers and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Persist the metadata header before dismantling the streaming sinks.
	var firstErr error
	header := Header{SchemaVersion: HeaderSchemaVersion, Seed: w.seed, Parameters: w.params.Clone(), FilePointer: manifestFile}
	if err := WriteHeader(filepath.Join(w.dir, headerFile), header); err != nil {
		firstErr = err
	}
	//2.- Attempt every flush/close and surface the first failure.
	for _, step := range []func() error{
		w.flushLocked,
		w.eventStream.Flush,
		w.eventStream.Close,
		w.eventFile.Close,
		w.frameStream.Close,
		w.frameFile.Close,
	} {
		if err := step(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	for _, frame := range w.pending {
		var header [frameHeaderSize]byte
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], math.Float64bits(frame.SimulatedTime))
		binary.LittleEndian.PutUint64(header[16:24], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header[:]); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

type eventRecord struct {
	Tick          uint64  `json:"tick"`
	SimulatedTime float64 `json:"simulated_time"`
	CapturedAt    string  `json:"captured_at"`
	Type          string  `json:"type"`
	PayloadB64    string  `json:"payload_b64"`
}
