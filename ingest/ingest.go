// Package ingest provides the streaming machinery for storing content:
// fixed-size chunked copying with leading-signature validation, and
// base64 decoding that tolerates data: URIs and embedded whitespace.
// Everything here is plain io plumbing; peak memory during a copy is one
// chunk regardless of input size.
package ingest

import (
	"bytes"
	"errors"
	"io"
)

// DefaultChunkSize is the unit of streaming consumption.
const DefaultChunkSize = 8 * 1024

// ErrInvalidSignature is returned when the leading bytes of the content
// match none of the accepted signatures.
var ErrInvalidSignature = errors.New("content signature not recognized")

// DefaultSignatures is the default accepted signature set.
var DefaultSignatures = Signatures{[]byte("%PDF-")}

// Signatures is a set of accepted content prefixes. An empty set matches
// everything.
type Signatures [][]byte

// Match reports whether the prefix starts with any accepted signature.
func (s Signatures) Match(prefix []byte) bool {
	if len(s) == 0 {
		return true
	}
	for _, sig := range s {
		if bytes.HasPrefix(prefix, sig) {
			return true
		}
	}
	return false
}

// Copier streams content from a reader to a writer in fixed-size chunks.
// The first chunk is validated against the signature set before anything
// else is consumed, and an optional progress callback observes the byte
// count after every chunk.
type Copier struct {
	ChunkSize  int                 // defaults to DefaultChunkSize
	Signatures Signatures          // nil disables validation
	Progress   func(written int64) // optional
}

// Copy runs the transfer and returns bytes written and chunks consumed.
// On a signature mismatch nothing is written; the caller owns cleanup of
// the destination for failures after that point.
func (c *Copier) Copy(dst io.Writer, src io.Reader) (int64, int, error) {
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	// The first chunk is filled as far as the input allows so signature
	// validation never fails just because a reader returned short.
	n, err := fill(src, buf)
	atEOF := errors.Is(err, io.EOF)
	if err != nil && !atEOF {
		return 0, 0, err
	}
	if len(c.Signatures) > 0 && !c.Signatures.Match(buf[:n]) {
		return 0, 0, ErrInvalidSignature
	}

	var written int64
	chunks := 0
	if n > 0 {
		wn, werr := dst.Write(buf[:n])
		written += int64(wn)
		if werr != nil {
			return written, chunks, werr
		}
		if wn != n {
			return written, chunks, io.ErrShortWrite
		}
		chunks++
		if c.Progress != nil {
			c.Progress(written)
		}
	}
	if atEOF {
		return written, chunks, nil
	}

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, chunks, werr
			}
			if wn != n {
				return written, chunks, io.ErrShortWrite
			}
			chunks++
			if c.Progress != nil {
				c.Progress(written)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, chunks, nil
			}
			return written, chunks, rerr
		}
	}
}

// fill reads until buf is full or the source errs. Unlike io.ReadFull it
// hands back the source's own error, so a decoder failing with
// io.ErrUnexpectedEOF on truncated input is not mistaken for a stream
// that simply ended early.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		nn, err := r.Read(buf[n:])
		n += nn
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
