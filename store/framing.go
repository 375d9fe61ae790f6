package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

var (
	// MagicBytes is the 4-byte prefix for compressed container files.
	MagicBytes = []byte("OCZ1")

	// ErrInvalidMagic is returned when a file doesn't start with the expected magic bytes.
	ErrInvalidMagic = errors.New("invalid magic bytes: expected OCZ1")

	// ErrHeaderTooLarge is returned when the header exceeds MaxHeaderSize.
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")
)

// MaxHeaderSize is the maximum allowed size for the JSON header (4 KiB).
const MaxHeaderSize = 4 * 1024

// CodecZstd identifies zstd-compressed container bodies.
const CodecZstd = "zstd"

// ContainerHeader describes the compressed body that follows it.
// Checksum is the hex digest of the original (uncompressed) content.
type ContainerHeader struct {
	Codec        string `json:"codec"`
	OriginalSize int64  `json:"original_size"`
	Checksum     string `json:"checksum"`
}

// WriteContainer writes a compressed container to the writer.
// Format: MAGIC (4 bytes) | HDRLEN (uint32 big-endian) | HDRBYTES (JSON) | compressed body
func WriteContainer(w io.Writer, header *ContainerHeader, body io.Reader) error {
	if header.Codec != CodecZstd {
		return fmt.Errorf("unsupported codec: %q", header.Codec)
	}

	// Serialize header to JSON
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	headerLen := len(headerBytes)
	if headerLen > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	// Write magic bytes
	if _, err := w.Write(MagicBytes); err != nil {
		return fmt.Errorf("writing magic bytes: %w", err)
	}

	// Write header length as big-endian uint32
	if err := binary.Write(w, binary.BigEndian, uint32(headerLen)); err != nil { //nolint:gosec // headerLen is bounds-checked above
		return fmt.Errorf("writing header length: %w", err)
	}

	// Write header JSON
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	// Compress body
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, body); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compressing body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing zstd encoder: %w", err)
	}

	return nil
}

// ReadContainer reads a compressed container from the reader.
// Returns the parsed header and a reader that yields the decompressed body.
// The body reader is capped at OriginalSize+1 bytes so a corrupt container
// cannot expand without bound; callers must verify the decompressed length
// against the header.
func ReadContainer(r io.Reader) (*ContainerHeader, io.ReadCloser, error) {
	// Read and verify magic bytes
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, fmt.Errorf("reading magic bytes: %w", err)
	}
	if !bytes.Equal(magic, MagicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	// Read header length
	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, nil, fmt.Errorf("reading header length: %w", err)
	}

	if headerLen > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}

	// Read header JSON
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	// Parse header
	var header ContainerHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}

	if header.Codec != CodecZstd {
		return nil, nil, fmt.Errorf("unsupported codec: %q", header.Codec)
	}
	if header.OriginalSize < 0 {
		return nil, nil, fmt.Errorf("invalid original size: %d", header.OriginalSize)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	rc := dec.IOReadCloser()
	return &header, &boundedBody{r: io.LimitReader(rc, header.OriginalSize+1), rc: rc}, nil
}

// boundedBody caps reads from the decompressed stream at the declared size.
type boundedBody struct {
	r  io.Reader
	rc io.ReadCloser
}

func (b *boundedBody) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *boundedBody) Close() error {
	return b.rc.Close()
}

// SniffPath reports whether the file at path is a compressed container.
// Files shorter than the magic are plain content, not an error.
func SniffPath(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	prefix := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(f, prefix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(prefix, MagicBytes), nil
}
