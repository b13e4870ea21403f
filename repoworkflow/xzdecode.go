package repoworkflow

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

// xzMagic is the six-byte stream header every .xz file starts with.
var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// decompressMasterIndex un-xzs master if it carries the .xz stream magic
// (repomd.xml.xz is a common mirror layout for the rpm-md master index),
// and returns it unchanged otherwise. Grounded on claircore's
// internal/indexer/fetcher content-type dispatch, which picks a
// decompressor by sniffing the payload rather than trusting the
// extension alone.
func decompressMasterIndex(master []byte) ([]byte, error) {
	if !bytes.HasPrefix(master, xzMagic) {
		return master, nil
	}
	r, err := xz.NewReader(bytes.NewReader(master))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
