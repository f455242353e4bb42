package utils

import (
	"bufio"
	"compress/gzip"
	"io"
)

// readCloser ties a Reader to a Closer (composite).
type readCloser struct {
	io.Reader
	io.Closer
}

// MaybeGunzip returns a reader that yields the decompressed stream if src
// starts with the gzip magic, else src as-is. Close always reaches src.
func MaybeGunzip(src io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(src)
	hdr, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(hdr) >= 2 && hdr[0] == 0x1f && hdr[1] == 0x8b {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return readCloser{Reader: gr, Closer: src}, nil
	}
	return readCloser{Reader: br, Closer: src}, nil
}
