package diffex

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetectCompression(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
		want Compression
	}{
		{"gzip", gzipBytes(t, "gene\ts1\ng1\t5\n"), CompressionGzip},
		{"plain", []byte("gene\ts1\ng1\t5\n"), CompressionNone},
		{"short plain", []byte("ab"), CompressionNone},
		{"empty", nil, CompressionNone},
	} {
		got, err := DetectCompression(bytes.NewReader(tc.data))
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func writeTempFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestMaybeDecompressGzip(t *testing.T) {
	const content = "gene\ts1\ts2\ng1\t5\t9\n"
	f := writeTempFile(t, gzipBytes(t, content))

	r, err := MaybeDecompress(f)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestMaybeDecompressPlain(t *testing.T) {
	const content = "gene\ts1\ng1\t5\n"
	f := writeTempFile(t, []byte(content))

	r, err := MaybeDecompress(f)
	if err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestDetectDelimiter(t *testing.T) {
	for _, tc := range []struct {
		data string
		want rune
	}{
		{"gene\ts1\ts2\ng1\t5\t9\ng2\t1\t2\n", '\t'},
		{"gene,s1,s2\ng1,5,9\ng2,1,2\n", ','},
	} {
		if got := DetectDelimiter(strings.NewReader(tc.data)); got != tc.want {
			t.Errorf("DetectDelimiter(%q): got %q, want %q", tc.data, got, tc.want)
		}
	}
}
