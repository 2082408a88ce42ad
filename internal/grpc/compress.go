package grpc

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor applies symmetric compression to snapshot payloads.
type Compressor interface {
	//1.- Name returns the codec identifier advertised in stream metadata.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// Codec names accepted by CompressorByName.
const (
	EncodingIdentity = "identity"
	EncodingGZIP     = "gzip"
	EncodingSnappy   = "snappy"
	EncodingZstd     = "zstd"
)

// CompressorByName resolves a codec identifier. Names are case-insensitive.
func CompressorByName(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EncodingIdentity, "":
		return identityCompressor{}, nil
	case EncodingGZIP:
		return NewGZIPCompressor(), nil
	case EncodingSnappy:
		return NewSnappyCompressor(), nil
	case EncodingZstd:
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

// Encodings lists every supported codec identifier.
func Encodings() []string {
	names := []string{EncodingIdentity, EncodingGZIP, EncodingSnappy, EncodingZstd}
	sort.Strings(names)
	return names
}

type identityCompressor struct{}

func (identityCompressor) Name() string { return EncodingIdentity }

func (identityCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (identityCompressor) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

type gzipCompressor struct{}

// NewGZIPCompressor constructs a Compressor backed by gzip.
func NewGZIPCompressor() Compressor {
	return gzipCompressor{}
}

func (gzipCompressor) Name() string { return EncodingGZIP }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip copy: %w", err)
	}
	return out, nil
}

type snappyCompressor struct{}

// NewSnappyCompressor constructs a Compressor using the snappy block format.
func NewSnappyCompressor() Compressor {
	return snappyCompressor{}
}

func (snappyCompressor) Name() string { return EncodingSnappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// zstdCompressor shares one encoder and decoder; both are safe for concurrent
// EncodeAll/DecodeAll calls.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor constructs a Compressor backed by zstd.
func NewZstdCompressor() (Compressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (*zstdCompressor) Name() string { return EncodingZstd }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd decompress: empty payload")
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
