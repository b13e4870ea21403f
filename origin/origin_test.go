package origin

import (
	"context"
	"testing"
)

func mustEndpoint(t *testing.T, raw string) Endpoint {
	t.Helper()
	ep, err := NewEndpoint(raw, nil)
	if err != nil {
		t.Fatalf("NewEndpoint(%q): %v", raw, err)
	}
	return ep
}

func TestMirrorCompatibility(t *testing.T) {
	ctx := context.Background()
	authority := mustEndpoint(t, "https://example.com/repo")
	m := NewMirroredOrigin(authority)

	if !m.AddMirror(ctx, mustEndpoint(t, "http://mirror.example.com/repo")) {
		t.Fatal("expected http mirror to be accepted under an https authority")
	}
	if m.AddMirror(ctx, mustEndpoint(t, "cd:///media1")) {
		t.Fatal("expected non-downloading mirror to be rejected")
	}
	if got, want := len(m.All()), 2; got != want {
		t.Fatalf("All() length = %d, want %d", got, want)
	}
	if m.All()[0].String() != authority.String() {
		t.Fatal("authority must be first in iteration order")
	}
}

func TestSetAuthorityDropsIncompatible(t *testing.T) {
	ctx := context.Background()
	// A non-downloading authority accepts any mirror, so start from one to
	// accumulate a mixed downloading/non-downloading mirror set.
	m := NewMirroredOrigin(mustEndpoint(t, "cd:///media1"))
	m.AddMirror(ctx, mustEndpoint(t, "dvd:///media2"))
	m.AddMirror(ctx, mustEndpoint(t, "http://mirror.example.com/repo"))

	// Switching to a downloading authority drops mirrors that are both
	// non-downloading and scheme-mismatched, but keeps downloading ones.
	m.SetAuthority(mustEndpoint(t, "https://example.com/repo"))
	if len(m.mirrors) != 1 || m.mirrors[0].Scheme() != "http" {
		t.Fatalf("expected only the downloading mirror to survive, got %v", m.mirrors)
	}
}

func TestSetAuthorityToNonDownloadingKeepsMirrors(t *testing.T) {
	ctx := context.Background()
	m := NewMirroredOrigin(mustEndpoint(t, "https://example.com/repo"))
	m.AddMirror(ctx, mustEndpoint(t, "http://mirror.example.com/repo"))

	// Switching to a non-downloading authority never drops mirrors, per
	// the source's setAuthority: erasure only runs when the new authority
	// itself is a downloading scheme.
	m.SetAuthority(mustEndpoint(t, "cd:///media1"))
	if len(m.mirrors) != 1 {
		t.Fatalf("expected mirrors to survive a switch to a non-downloading authority, got %d remaining", len(m.mirrors))
	}
}

func TestSetGrouping(t *testing.T) {
	s := NewSet()
	s.AddEndpoint(mustEndpoint(t, "https://a.example.com/repo"))
	s.AddEndpoint(mustEndpoint(t, "http://b.example.com/repo"))
	s.AddEndpoint(mustEndpoint(t, "cd:///media1"))
	s.AddEndpoint(mustEndpoint(t, "dvd:///media2"))

	if got, want := len(s.Groups()), 3; got != want {
		t.Fatalf("Groups() length = %d, want %d", got, want)
	}
	if !s.HasFallbackUrls() {
		t.Fatal("expected HasFallbackUrls true with 4 total endpoints")
	}
	if ep, ok := s.FindByUrl("cd:///media1"); !ok || ep.String() != "cd:///media1" {
		t.Fatal("FindByUrl failed to locate a non-downloading authority")
	}
}

func TestOutOfRange(t *testing.T) {
	m := NewMirroredOrigin(mustEndpoint(t, "https://example.com/repo"))
	if _, err := m.At(5); err != ErrOutOfRange {
		t.Fatalf("At(5) error = %v, want ErrOutOfRange", err)
	}
}
