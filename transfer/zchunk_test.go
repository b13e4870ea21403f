package transfer

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestDecompressZchunkBlockPassesThroughUncompressed(t *testing.T) {
	want := []byte("plain block content")
	got, err := decompressZchunkBlock(want)
	if err != nil {
		t.Fatalf("decompressZchunkBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want passthrough %q", got, want)
	}
}

func TestDecompressZchunkBlockUnpacksZstd(t *testing.T) {
	want := []byte("compressed zchunk block payload")
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	compressed := enc.EncodeAll(want, nil)
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder close: %v", err)
	}

	got, err := decompressZchunkBlock(compressed)
	if err != nil {
		t.Fatalf("decompressZchunkBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
