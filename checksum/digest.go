// Package checksum provides an algorithm-independent content digest used to
// validate range downloads, predownload cache entries, and signature
// contexts throughout provisioncore.
package checksum

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// Supported digest algorithms.
//
// MD5 and SHA1 are carried even though they're cryptographically weak
// because repository metadata (and some package payloads) still publish
// them; the transfer engine only uses a Digest to detect corruption, not to
// establish trust.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// Digest is the hash of some data, independent of the algorithm used to
// produce it.
type Digest struct {
	algo     string
	checksum []byte
	repr     string
}

// Checksum returns the raw checksum bytes.
func (d Digest) Checksum() []byte { return d.checksum }

// Algorithm reports the algorithm name used for this Digest.
func (d Digest) Algorithm() string { return d.algo }

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool { return d.algo == "" }

// Hash returns a fresh instance of the hashing algorithm used for this
// Digest.
func (d Digest) Hash() hash.Hash {
	h, ok := newHash(d.algo)
	if !ok {
		panic("checksum: Hash called on an invalid Digest")
	}
	return h
}

func newHash(algo string) (hash.Hash, bool) {
	switch algo {
	case MD5:
		return md5.New(), true
	case SHA1:
		return sha1.New(), true
	case SHA256:
		return sha256.New(), true
	case SHA512:
		return sha512.New(), true
	default:
		return nil, false
	}
}

func hashSize(algo string) (int, bool) {
	switch algo {
	case MD5:
		return md5.Size, true
	case SHA1:
		return sha1.Size, true
	case SHA256:
		return sha256.Size, true
	case SHA512:
		return sha512.Size, true
	default:
		return 0, false
	}
}

func (d Digest) String() string { return d.repr }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	b := make([]byte, len(d.repr))
	copy(b, d.repr)
	return b, nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The expected form is
// "algo:hexchecksum".
func (d *Digest) UnmarshalText(t []byte) error {
	i := bytes.IndexByte(t, ':')
	if i == -1 {
		return &Error{msg: "invalid digest format"}
	}
	d.algo = string(t[:i])
	t = t[i+1:]
	b := make([]byte, hex.DecodedLen(len(t)))
	if _, err := hex.Decode(b, t); err != nil {
		return &Error{msg: "unable to decode digest as hex", inner: err}
	}
	return d.setChecksum(b)
}

// Error is the concrete type backing errors returned from Digest's methods.
type Error struct {
	msg   string
	inner error
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.inner }

func (d *Digest) setChecksum(b []byte) error {
	sz, ok := hashSize(d.algo)
	if !ok {
		return &Error{msg: fmt.Sprintf("unknown algorithm %q", d.algo)}
	}
	if l := len(b); l != sz {
		return &Error{msg: fmt.Sprintf("bad checksum length: %d", l)}
	}

	el := hex.EncodedLen(sz)
	hl := len(d.algo) + 1
	sb := make([]byte, hl+el)
	copy(sb, d.algo)
	sb[len(d.algo)] = ':'
	hex.Encode(sb[hl:], b)

	d.checksum = b
	d.repr = string(sb)
	return nil
}

// New constructs a Digest from a raw checksum.
func New(algo string, sum []byte) (Digest, error) {
	d := Digest{algo: algo}
	return d, d.setChecksum(sum)
}

// Parse constructs a Digest from its "algo:hex" string form.
func Parse(s string) (Digest, error) {
	d := Digest{}
	return d, d.UnmarshalText([]byte(s))
}

// MustParse works like Parse but panics on malformed input. Intended for
// tests and compile-time constants.
func MustParse(s string) Digest {
	d := Digest{}
	if err := d.UnmarshalText([]byte(s)); err != nil {
		panic(fmt.Sprintf("checksum: digest %q could not be parsed: %v", s, err))
	}
	return d
}

// Equal reports whether two digests carry the same algorithm and checksum.
func (d Digest) Equal(o Digest) bool {
	return d.algo == o.algo && bytes.Equal(d.checksum, o.checksum)
}
