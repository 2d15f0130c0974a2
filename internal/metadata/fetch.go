package metadata

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"

	"github.com/xi2/xz"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// Decompress wraps r with the decoder matching its magic bytes (gzip, bzip2
// or xz). Unrecognized data is passed through unchanged.
func Decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, &ImportError{Reason: "read metadata blob", Err: err}
	}

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, &ImportError{Reason: "gzip decompress", Err: err}
		}
		return gz, nil
	case len(magic) >= 3 && bytes.Equal(magic[:3], []byte("BZh")):
		return bzip2.NewReader(br), nil
	case len(magic) >= 6 && bytes.Equal(magic[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xr, err := xz.NewReader(br, 0)
		if err != nil {
			return nil, &ImportError{Reason: "xz decompress", Err: err}
		}
		return xr, nil
	}
	return br, nil
}

// IsSQLite reports whether data starts with the SQLite file header.
func IsSQLite(data []byte) bool {
	return bytes.HasPrefix(data, sqliteHeader)
}
