package ingest

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
)

// maxDataURIHeader bounds the scan for a data: URI comma. Real headers
// ("data:application/pdf;base64,") are well under this.
const maxDataURIHeader = 256

// NewBase64Reader returns a reader yielding the decoded bytes of base64
// text. An optional "data:...;base64," URI header is skipped, and
// whitespace (line breaks in particular) is tolerated anywhere in the
// text. Malformed base64 surfaces as a decode error on Read.
func NewBase64Reader(r io.Reader) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, &cleanReader{br: bufio.NewReader(r)})
}

// EstimatedDecodedSize returns the approximate decoded length of base64
// text of the given encoded length, within a few bytes of the true size.
func EstimatedDecodedSize(encoded int64) int64 {
	if encoded <= 0 {
		return 0
	}
	return encoded / 4 * 3
}

// cleanReader strips a data: URI header and all whitespace from a base64
// text stream before it reaches the decoder.
type cleanReader struct {
	br      *bufio.Reader
	started bool
}

func (r *cleanReader) Read(p []byte) (int, error) {
	if !r.started {
		r.started = true
		if err := r.skipDataURIHeader(); err != nil {
			return 0, err
		}
	}

	for {
		n, err := r.br.Read(p)
		kept := 0
		for i := 0; i < n; i++ {
			switch p[i] {
			case ' ', '\n', '\r', '\t':
			default:
				p[kept] = p[i]
				kept++
			}
		}
		if kept > 0 || err != nil {
			return kept, err
		}
		// Everything in this read was whitespace; try again.
	}
}

// skipDataURIHeader discards a "data:...;base64," prefix when present.
// A data: prefix without a comma in the scan window is left in place and
// will fail base64 decoding downstream, which is the right failure mode
// for a malformed URI.
func (r *cleanReader) skipDataURIHeader() error {
	prefix, err := r.br.Peek(5)
	if err != nil || !bytes.Equal(prefix, []byte("data:")) {
		return nil
	}

	window, _ := r.br.Peek(maxDataURIHeader)
	comma := bytes.IndexByte(window, ',')
	if comma < 0 || !bytes.Contains(window[:comma], []byte("base64")) {
		return nil
	}
	_, err = r.br.Discard(comma + 1)
	return err
}
