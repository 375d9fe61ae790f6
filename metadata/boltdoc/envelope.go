package boltdoc

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	// compressionThreshold is the minimum value size before compression
	// is considered. zstd overhead is not worth it for smaller values.
	compressionThreshold = 2048

	// maxValueSize caps what a single envelope may hold on either side
	// of compression.
	maxValueSize = 10 * 1024 * 1024

	encodingIdentity byte = 0x00
	encodingZstd     byte = 0x01
)

var (
	// ErrValueTooLarge is returned when a value exceeds maxValueSize.
	ErrValueTooLarge = errors.New("value exceeds maximum size")

	// ErrDecompressionBomb is returned when a decoded value exceeds maxValueSize.
	ErrDecompressionBomb = errors.New("decompressed value exceeds maximum size")
)

// envelopeCodec wraps bucket values in a one-byte encoding marker and
// compresses large values transparently. Encoder and decoder are
// goroutine-safe and reused across calls.
type envelopeCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newEnvelopeCodec() (*envelopeCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &envelopeCodec{encoder: enc, decoder: dec}, nil
}

func (c *envelopeCodec) close() {
	c.encoder.Close()
	c.decoder.Close()
}

// encode wraps data for storage, compressing when it actually pays off.
func (c *envelopeCodec) encode(data []byte) ([]byte, error) {
	if len(data) > maxValueSize {
		return nil, ErrValueTooLarge
	}
	if len(data) < compressionThreshold {
		return append([]byte{encodingIdentity}, data...), nil
	}

	compressed := c.encoder.EncodeAll(data, []byte{encodingZstd})
	if len(compressed) >= len(data)+1 {
		return append([]byte{encodingIdentity}, data...), nil
	}
	return compressed, nil
}

// decode unwraps a stored value. The result is always a fresh allocation,
// safe to retain after the enclosing transaction ends.
func (c *envelopeCodec) decode(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, errors.New("empty envelope")
	}

	switch value[0] {
	case encodingIdentity:
		out := make([]byte, len(value)-1)
		copy(out, value[1:])
		return out, nil
	case encodingZstd:
		decompressed, err := c.decoder.DecodeAll(value[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing value: %w", err)
		}
		if len(decompressed) > maxValueSize {
			return nil, ErrDecompressionBomb
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("unknown envelope encoding 0x%02x", value[0])
	}
}
