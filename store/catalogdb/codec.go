package catalogdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum record size before compression is
	// considered. Below 2KB the zstd overhead is not worth it; placeholder
	// previews push asset records well past it.
	CompressionThreshold = 2048

	// MaxRecordSize is the maximum allowed uncompressed record size.
	MaxRecordSize = 10 * 1024 * 1024 // 10MB

	// MaxDecodedSize is the hard cap during decompression to prevent
	// compression bombs.
	MaxDecodedSize = 10 * 1024 * 1024 // 10MB
)

// Record encoding markers. Every stored record is prefixed with one byte
// naming its encoding.
const (
	encodingIdentity byte = 0
	encodingZstd     byte = 1
)

var (
	// ErrRecordTooLarge is returned when a record exceeds MaxRecordSize.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)

// RecordCodec handles record encoding/decoding with optional zstd
// compression. Encoder and decoder are goroutine-safe and reused.
type RecordCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewRecordCodec creates a new codec with pooled zstd encoder/decoder.
func NewRecordCodec() (*RecordCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &RecordCodec{
		encoder: enc,
		decoder: dec,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *RecordCodec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode returns the record bytes in stored form, compressed when the record
// is large enough for compression to pay off.
func (c *RecordCodec) Encode(data []byte) ([]byte, error) {
	if len(data) > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}

	if len(data) < CompressionThreshold {
		return append([]byte{encodingIdentity}, data...), nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.encoder == nil {
		return nil, errors.New("codec closed")
	}

	compressed := c.encoder.EncodeAll(data, []byte{encodingZstd})
	if len(compressed) >= len(data)+1 {
		// Compression did not help; store as-is.
		return append([]byte{encodingIdentity}, data...), nil
	}
	return compressed, nil
}

// Decode returns the original record bytes from stored form.
func (c *RecordCodec) Decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, ErrCorruptRecord
	}

	switch stored[0] {
	case encodingIdentity:
		out := make([]byte, len(stored)-1)
		copy(out, stored[1:])
		return out, nil
	case encodingZstd:
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.decoder == nil {
			return nil, errors.New("codec closed")
		}
		data, err := c.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorruptRecord, stored[0])
	}
}
