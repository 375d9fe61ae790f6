package objcache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// ID is an opaque entry identifier. The canonical form is
// "obj_<24 hex chars>_<unix millis>": a content-derived digest fragment
// plus the creation timestamp. IDs are never reused; storing the same
// content twice yields two distinct ids.
type ID string

const (
	idPrefix  = "obj_"
	idHexLen  = 24
	idMinTail = 1
)

// idSeq disambiguates ids minted within the same nanosecond. Incremented
// per NewID call for the life of the process.
var idSeq atomic.Uint64

// NewID mints an id for content with the given checksum created at t.
// The digest fragment covers the checksum, the creation time, and a
// process-monotonic sequence number, so concurrent stores of identical
// content produce independent ids.
func NewID(sum Checksum, t time.Time) ID {
	var buf [ChecksumSize + 16]byte
	copy(buf[:], sum[:])
	binary.BigEndian.PutUint64(buf[ChecksumSize:], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(buf[ChecksumSize+8:], idSeq.Add(1))

	digest := blake3.Sum256(buf[:])
	return ID(idPrefix + hex.EncodeToString(digest[:])[:idHexLen] + "_" + strconv.FormatInt(t.UnixMilli(), 10))
}

// ParseID validates the canonical id form. Names that do not parse are
// ignored by store listings, which is how the metadata document and
// temp files share the cache root with entry files.
func ParseID(s string) (ID, error) {
	rest, ok := strings.CutPrefix(s, idPrefix)
	if !ok {
		return "", fmt.Errorf("invalid id %q: missing %q prefix", s, idPrefix)
	}

	hexPart, tail, ok := strings.Cut(rest, "_")
	if !ok {
		return "", fmt.Errorf("invalid id %q: missing timestamp suffix", s)
	}
	if len(hexPart) != idHexLen {
		return "", fmt.Errorf("invalid id %q: digest must be %d hex chars", s, idHexLen)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	if len(tail) < idMinTail {
		return "", fmt.Errorf("invalid id %q: empty timestamp", s)
	}
	if _, err := strconv.ParseInt(tail, 10, 64); err != nil {
		return "", fmt.Errorf("invalid id %q: bad timestamp: %w", s, err)
	}

	return ID(s), nil
}

// IsID reports whether s is a well-formed entry id.
func IsID(s string) bool {
	_, err := ParseID(s)
	return err == nil
}

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}
