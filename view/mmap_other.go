//go:build !darwin && !linux

package view

import (
	"errors"
	"os"
)

// Platforms without memory-map support get an error from Acquire; the
// rest of the cache works normally there.
var errUnsupported = errors.New("view: memory-mapped reads not supported on this platform")

func mmapFile(_ *os.File, _ int64) ([]byte, error) {
	return nil, errUnsupported
}

func munmapFile(_ []byte) error {
	return nil
}
