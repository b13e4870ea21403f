// Package origin models the authority-plus-mirrors endpoint set a repository
// publishes (spec §3/§4.2 "MirroredOrigin"/"MirroredOriginSet"), grounded on
// the teacher's claircore.Layer pattern of a small immutable value type with
// a handful of query methods, generalized here to the scheme/config-map
// shape the source's OriginEndpoint carries.
package origin

import (
	"fmt"
	"maps"
	"net/url"
)

// downloadingSchemes lists the URL schemes this module considers
// "downloading" (i.e. ones the transfer engine can fetch over the network).
// Mirrors of a downloading authority need only share this property, not the
// exact scheme, matching the source's "downloading ⇒ mirror downloading"
// invariant.
var downloadingSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ftp":   true,
}

// SchemeIsDownloading reports whether scheme is one this module can fetch
// payloads over.
func SchemeIsDownloading(scheme string) bool { return downloadingSchemes[scheme] }

// Endpoint is a URL plus a heterogeneous, typed configuration map. It is
// immutable once constructed: Config returns a defensive copy, and there is
// no in-place mutator, matching the source's copy-on-write discipline (see
// SPEC_FULL.md's design-notes mapping to value types plus explicit
// mutators).
type Endpoint struct {
	u      *url.URL
	config map[string]any
}

// NewEndpoint canonicalizes raw (stripping embedded credentials into the
// config map under "user"/"password") and returns the resulting Endpoint.
func NewEndpoint(raw string, config map[string]any) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("origin: invalid endpoint url: %w", err)
	}
	cfg := make(map[string]any, len(config)+2)
	maps.Copy(cfg, config)
	if u.User != nil {
		cfg["user"] = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg["password"] = pw
		}
		u.User = nil
	}
	cp := *u
	return Endpoint{u: &cp, config: cfg}, nil
}

// URL returns the canonical URL, credential-free.
func (e Endpoint) URL() *url.URL {
	cp := *e.u
	return &cp
}

// String renders the fully-qualified URL used for equality and ordering.
func (e Endpoint) String() string {
	if e.u == nil {
		return ""
	}
	return e.u.String()
}

// Scheme is a convenience accessor.
func (e Endpoint) Scheme() string {
	if e.u == nil {
		return ""
	}
	return e.u.Scheme
}

// SchemeIsDownloading reports whether this endpoint's scheme is a
// downloading one.
func (e Endpoint) SchemeIsDownloading() bool { return SchemeIsDownloading(e.Scheme()) }

// IsValid reports whether the endpoint carries a parsed, non-empty URL.
// The zero Endpoint (no URL ever parsed into it) is invalid.
func (e Endpoint) IsValid() bool { return e.u != nil && e.u.Scheme != "" }

// Config retrieves a typed setting from the endpoint's configuration map.
// ok is false when the key is absent or T doesn't match the stored type.
func Config[T any](e Endpoint, key string) (v T, ok bool) {
	raw, present := e.config[key]
	if !present {
		return v, false
	}
	v, ok = raw.(T)
	return v, ok
}

// Equal compares two endpoints by their rendered URL, per spec.
func (e Endpoint) Equal(o Endpoint) bool { return e.String() == o.String() }

// Less orders two endpoints by their rendered URL, per spec.
func (e Endpoint) Less(o Endpoint) bool { return e.String() < o.String() }
