// Package diffex provides shared input plumbing for the differential
// expression tools: compression sniffing and delimiter detection for
// the delimited text files the pipeline consumes.
package diffex

import (
	"compress/bzip2"
	"compress/gzip"
	"compress/zlib"
	"io"
	"os"

	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

type Compression byte

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZip
	CompressionXZ
	CompressionZlib
	CompressionBzip2
)

// Magic byte signatures from https://stackoverflow.com/a/19127748/199475
var compressionSigs = map[Compression][]byte{
	CompressionGzip:  {0x1f, 0x8b, 0x08},
	CompressionZip:   {0x50, 0x4b, 0x03, 0x04},
	CompressionXZ:    {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	CompressionZlib:  {0x1f, 0x9d},
	CompressionBzip2: {0x42, 0x5a, 0x68},
}

// DetectCompression reads the first few bytes of r and matches them against
// known compression signatures. The reader is consumed; callers that need the
// data should re-seek or reopen. Inputs shorter than the longest signature
// are valid and report no compression.
func DetectCompression(r io.Reader) (Compression, error) {
	buff := make([]byte, 6)
	n, err := io.ReadFull(r, buff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return CompressionUnknown, err
	}
	buff = buff[:n]

Outer:
	for c, sig := range compressionSigs {
		if len(sig) > len(buff) {
			continue
		}
		for i := range sig {
			if buff[i] != sig[i] {
				continue Outer
			}
		}
		return c, nil
	}

	return CompressionNone, nil
}

// MaybeDecompress wraps f in a decompressing reader if its leading bytes match
// a known compression format, and otherwise returns f unwrapped. Count
// matrices are frequently gzipped; the metadata table usually is not.
func MaybeDecompress(f *os.File) (io.ReadCloser, error) {
	c, err := DetectCompression(f)
	if err != nil {
		return nil, err
	}
	// Rewind so the decompressor sees the signature bytes again.
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	switch c {
	case CompressionGzip:
		return gzip.NewReader(f)
	case CompressionZip:
		return &nopCloser{zipstream.NewReader(f)}, nil
	case CompressionBzip2:
		return &nopCloser{bzip2.NewReader(f)}, nil
	case CompressionXZ:
		r, err := xz.NewReader(f, 0)
		if err != nil {
			return nil, err
		}
		return &nopCloser{r}, nil
	case CompressionZlib:
		return zlib.NewReader(f)
	}

	return f, nil
}

// nopCloser upgrades readers that don't need to be closed.
type nopCloser struct {
	io.Reader
}

func (c *nopCloser) Close() error {
	return nil
}
