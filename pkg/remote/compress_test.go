package remote

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func encodeZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestZstdReader(t *testing.T) {
	plain := bytes.Repeat([]byte(`{"name":"hw1","directory_path":"homework/1"}`), 50)
	zr, err := newZstdReader(bytes.NewReader(encodeZstd(t, plain)))
	if err != nil {
		t.Fatalf("newZstdReader: %v", err)
	}
	defer zr.Close()
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decoded %d bytes, want %d", len(got), len(plain))
	}
}

func TestIsZstdEncoded(t *testing.T) {
	for enc, want := range map[string]bool{
		"zstd":       true,
		"ZSTD":       true,
		"gzip, zstd": true,
		"gzip":       false,
		"":           false,
	} {
		if got := isZstdEncoded(enc); got != want {
			t.Fatalf("isZstdEncoded(%q) = %v, want %v", enc, got, want)
		}
	}
}
