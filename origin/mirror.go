package origin

import (
	"context"

	"github.com/quay/zlog"
)

// MirroredOrigin is an authority endpoint and an ordered list of mirror
// endpoints believed to serve the same content. Iteration (All) always
// yields the authority first, then mirrors in append order.
type MirroredOrigin struct {
	authority Endpoint
	mirrors   []Endpoint
}

// NewMirroredOrigin constructs a MirroredOrigin with no mirrors.
func NewMirroredOrigin(authority Endpoint) *MirroredOrigin {
	return &MirroredOrigin{authority: authority}
}

// Authority returns the authority endpoint.
func (m *MirroredOrigin) Authority() Endpoint { return m.authority }

// Mirrors returns the mirror list. Callers must not mutate the returned
// slice.
func (m *MirroredOrigin) Mirrors() []Endpoint { return m.mirrors }

// All returns authority followed by mirrors, per spec's iteration order.
func (m *MirroredOrigin) All() []Endpoint {
	out := make([]Endpoint, 0, 1+len(m.mirrors))
	out = append(out, m.authority)
	return append(out, m.mirrors...)
}

// HasFallbackUrls reports whether there's more than one endpoint total.
func (m *MirroredOrigin) HasFallbackUrls() bool { return len(m.mirrors) > 0 }

// compatible reports whether mirror may be added to (or kept under) an
// origin whose authority is auth, per the scheme-compatibility invariant
// in spec §3. A mirror is only ever rejected when the authority is a
// valid, downloading endpoint and the mirror is both non-downloading and
// scheme-mismatched; an invalid or non-downloading authority, or a
// downloading mirror, is always compatible regardless of scheme.
func compatible(auth, mirror Endpoint) bool {
	if !auth.IsValid() || !auth.SchemeIsDownloading() || mirror.SchemeIsDownloading() {
		return true
	}
	return auth.Scheme() == mirror.Scheme()
}

// SetAuthority replaces the authority, dropping any mirrors that become
// scheme-incompatible with the new one.
func (m *MirroredOrigin) SetAuthority(ep Endpoint) {
	m.authority = ep
	kept := m.mirrors[:0]
	for _, mm := range m.mirrors {
		if compatible(ep, mm) {
			kept = append(kept, mm)
		}
	}
	m.mirrors = kept
}

// AddMirror appends ep to the mirror list iff it's scheme-compatible with
// the current authority. Incompatible mirrors are silently rejected (logged,
// per spec's "logged and skipped" invariant) rather than returning an error.
func (m *MirroredOrigin) AddMirror(ctx context.Context, ep Endpoint) bool {
	if !compatible(m.authority, ep) {
		zlog.Debug(ctx).
			Str("component", "origin.MirroredOrigin.AddMirror").
			Str("authority", m.authority.String()).
			Str("mirror", ep.String()).
			Msg("rejecting scheme-incompatible mirror")
		return false
	}
	m.mirrors = append(m.mirrors, ep)
	return true
}

// At returns the endpoint at the given iteration index (0 is the
// authority), or an OutOfRange error.
func (m *MirroredOrigin) At(i int) (Endpoint, error) {
	all := m.All()
	if i < 0 || i >= len(all) {
		return Endpoint{}, ErrOutOfRange
	}
	return all[i], nil
}

// ErrOutOfRange is returned by index-based accessors when the index is
// outside the valid range. All other MirroredOrigin/MirroredOriginSet
// operations are infallible, per spec §4.2.
var ErrOutOfRange = outOfRangeError{}

type outOfRangeError struct{}

func (outOfRangeError) Error() string { return "origin: index out of range" }
