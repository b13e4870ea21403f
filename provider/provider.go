// Package provider implements the media-attachment and file-provision
// layer of spec §4.6: it owns a set of attached media, runs the
// media-change dialogue on attach failures, and serves individual files
// from an attached medium as managed local paths. Grounded on
// original_source/zypp/MediaSetAccess.cc and zypp-media/ng/Provider.cc for
// the attach/dedup/refcount model, expressed with claircore's errors.go
// style of a closed per-component error taxonomy and zlog for logging.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/quay/provisioncore/origin"
	"github.com/quay/provisioncore/reports"
	"github.com/quay/provisioncore/transfer"
)

// ErrorKind is the closed taxonomy for media exceptions, spec §7.
type ErrorKind string

const (
	ErrMedia            ErrorKind = "media"
	ErrMediaFileNotFound ErrorKind = "media-file-not-found"
	ErrMediaJammed       ErrorKind = "media-jammed"
	ErrMediaNotDesired   ErrorKind = "media-not-desired"
	ErrMediaBadURL       ErrorKind = "media-bad-url"
	ErrAbortRequest      ErrorKind = "abort-request"
	ErrSkipRequest       ErrorKind = "skip-request"
)

// Error is the provider package's error wrapper.
type Error struct {
	Kind    ErrorKind
	Message string
	Inner   error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("provider: %s: %s: %v", e.Kind, e.Message, e.Inner)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}
func (e *Error) Unwrap() error { return e.Inner }

// Spec is spec §3's ProvideMediaSpec: two specs refer to the same medium
// iff their origin authorities are equal and Label/MediaNumber match.
type Spec struct {
	Label       string
	MediaNumber int
	MediaFile   string // optional file used to verify the medium, e.g. media.1/media
}

func isSameMedium(a *origin.MirroredOrigin, as Spec, b *origin.MirroredOrigin, bs Spec) bool {
	return a.Authority().Equal(b.Authority()) && as.Label == bs.Label && as.MediaNumber == bs.MediaNumber
}

// Outcome is the user's response to a media-change dialogue.
type Outcome int

const (
	Abort Outcome = iota
	Ignore
	Eject
	Retry
	ChangeURL
)

// Problem classifies why an attach failed, spec §4.6's WRONG/INVALID
// split.
type Problem int

const (
	Wrong Problem = iota
	Invalid
)

// Dialogue is the user-interaction surface the provider calls when an
// attach fails; the embedding application supplies a concrete
// implementation backed by its device enumeration and UI.
type Dialogue interface {
	// Devices lists candidate devices for origin, with volatile
	// (removable) schemes pre-filtered to exclude devices already
	// mounted by the OS.
	Devices(ctx context.Context, o *origin.MirroredOrigin) []Device
	// Ask presents the problem to the user and returns their choice. If
	// the outcome is ChangeURL, newURL holds the replacement.
	Ask(ctx context.Context, problem Problem, o *origin.MirroredOrigin, devices []Device, currentIdx int) (outcome Outcome, deviceIdx int, newURL string)
}

// Device is one candidate device a Dialogue may offer the user.
type Device struct {
	Path     string
	Volatile bool
	InUse    bool
}

// Opener attaches a medium on a chosen device and serves files from it;
// the embedding application binds this to its filesystem/mount/transfer
// layer. A nil Opener is only valid for tests exercising dedup logic.
type Opener interface {
	Attach(ctx context.Context, o *origin.MirroredOrigin, spec Spec, deviceIdx int) (mountRoot string, err error)
	Detach(ctx context.Context, mountRoot string)
	Fetch(ctx context.Context, o *origin.MirroredOrigin, mountRoot, file string) (localPath string, err error)
	Exists(ctx context.Context, mountRoot, file string) bool
}

// Handle is an attached-media record, spec §3's "Attached-media record".
type Handle struct {
	id        uuid.UUID
	origin    *origin.MirroredOrigin
	spec      Spec
	mountRoot string
	refs      int
}

// ID returns the external handle id used by callers to reference this
// attachment.
func (h *Handle) ID() uuid.UUID { return h.id }

// ProvideSpec controls one provide(handle, file, spec) call.
type ProvideSpec struct {
	CheckExistsOnly bool
}

// ProvideRes is the result of a successful provide call.
type ProvideRes struct {
	LocalPath     string
	FromMirror    origin.Endpoint
}

// Provider owns the set of currently attached media.
type Provider struct {
	mu       sync.Mutex
	handles  []*Handle
	dialogue Dialogue
	opener   Opener

	// Report receives the media-change dialogue's prompts and outcomes as
	// spec §7's user-visible reporting surface. Defaults to reports.Null.
	Report reports.Report
}

// New constructs a Provider.
func New(dialogue Dialogue, opener Opener) *Provider {
	return &Provider{dialogue: dialogue, opener: opener, Report: reports.Null{}}
}

// AttachMedia attaches o, deduping against already-attached media by
// isSameMedium, running the media-change dialogue on failure per spec
// §4.6.
func (p *Provider) AttachMedia(ctx context.Context, o *origin.MirroredOrigin, spec Spec) (*Handle, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "provider.Provider.AttachMedia")

	p.mu.Lock()
	for _, h := range p.handles {
		if isSameMedium(h.origin, h.spec, o, spec) {
			h.refs++
			p.mu.Unlock()
			return h, nil
		}
	}
	p.mu.Unlock()

	deviceIdx := 0
	for {
		mountRoot, err := p.opener.Attach(ctx, o, spec, deviceIdx)
		if err == nil {
			p.mu.Lock()
			// refs counts the Provider's own reference plus the caller's.
			h := &Handle{id: uuid.New(), origin: o, spec: spec, mountRoot: mountRoot, refs: 2}
			p.handles = append(p.handles, h)
			p.mu.Unlock()
			return h, nil
		}

		problem := classifyAttachError(err)
		devices := p.dialogue.Devices(ctx, o)
		if !anyFree(devices) {
			p.report().Error(ctx, "no free device to attach the requested medium")
			return nil, &Error{Kind: ErrMediaJammed, Message: "no free device for medium", Inner: err}
		}

		p.report().Important(ctx, "media attach failed, prompting for a replacement")
		outcome, chosenIdx, newURL := p.dialogue.Ask(ctx, problem, o, devices, preserveIndex(devices, deviceIdx))
		switch outcome {
		case Abort:
			p.report().Warning(ctx, "user aborted media attach")
			return nil, &Error{Kind: ErrAbortRequest, Message: "user aborted media attach", Inner: err}
		case Ignore:
			p.report().Warning(ctx, "user skipped media attach")
			return nil, &Error{Kind: ErrSkipRequest, Message: "user skipped media attach", Inner: err}
		case Eject:
			zlog.Debug(ctx).Msg("ejecting rejected device, retrying attach")
			deviceIdx = chosenIdx
			continue
		case Retry:
			deviceIdx = chosenIdx
			continue
		case ChangeURL:
			ep, perr := origin.NewEndpoint(newURL, nil)
			if perr != nil {
				p.report().Error(ctx, "user-supplied replacement URL is invalid")
				return nil, &Error{Kind: ErrMediaBadURL, Message: newURL, Inner: perr}
			}
			o = origin.NewMirroredOrigin(ep)
			deviceIdx = chosenIdx
			continue
		}
	}
}

func (p *Provider) report() reports.Report {
	if p.Report == nil {
		return reports.Null{}
	}
	return p.Report
}

func anyFree(devices []Device) bool {
	for _, d := range devices {
		if !d.InUse {
			return true
		}
	}
	return false
}

// preserveIndex carries the previously-selected device index into a fresh
// Devices() listing, mirroring provide.cc's devindex/currentlyUsed/
// foundCurrent block: the prior selection is kept only if it still refers
// to a free device in the new listing, and falls back to index 0
// otherwise ("seems 0 is what is set in the handlers too if there is no
// current").
func preserveIndex(devices []Device, current int) int {
	if current >= 0 && current < len(devices) && !devices[current].InUse {
		return current
	}
	return 0
}

func classifyAttachError(err error) Problem {
	if te, ok := err.(*transfer.Error); ok && (te.Kind == transfer.ErrNotFound || te.Kind == transfer.ErrForbidden) {
		return Wrong
	}
	if pe, ok := err.(*Error); ok && pe.Kind == ErrMediaNotDesired {
		return Wrong
	}
	return Invalid
}

// Release drops one external reference to h; when the refcount reaches
// one (the Provider's own bookkeeping reference) the underlying handle is
// closed.
func (p *Provider) Release(ctx context.Context, h *Handle) {
	p.mu.Lock()
	h.refs--
	remaining := h.refs
	if remaining <= 1 {
		for i, cand := range p.handles {
			if cand == h {
				p.handles = append(p.handles[:i], p.handles[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()
	if remaining <= 1 {
		p.opener.Detach(ctx, h.mountRoot)
	}
}

// Provide serves file from h as a managed local path.
func (p *Provider) Provide(ctx context.Context, h *Handle, file string, spec ProvideSpec) (ProvideRes, error) {
	if spec.CheckExistsOnly {
		if p.opener.Exists(ctx, h.mountRoot, file) {
			return ProvideRes{}, nil
		}
		return ProvideRes{}, &Error{Kind: ErrMediaFileNotFound, Message: file}
	}
	local, err := p.opener.Fetch(ctx, h.origin, h.mountRoot, file)
	if err != nil {
		return ProvideRes{}, &Error{Kind: ErrMediaFileNotFound, Message: file, Inner: err}
	}
	return ProvideRes{LocalPath: local, FromMirror: h.origin.Authority()}, nil
}

// LazyMediaHandle is a promise to attach on first use, spec §4.6.
type LazyMediaHandle struct {
	mu      sync.Mutex
	handle  *Handle
	origin  *origin.MirroredOrigin
	spec    Spec
}

// NewLazyMediaHandle constructs an unattached promise for o/spec.
func NewLazyMediaHandle(o *origin.MirroredOrigin, spec Spec) *LazyMediaHandle {
	return &LazyMediaHandle{origin: o, spec: spec}
}

// AttachMediaIfNeeded attaches lazily on first call and returns the same
// Handle on every subsequent call.
func (p *Provider) AttachMediaIfNeeded(ctx context.Context, lazy *LazyMediaHandle) (*Handle, error) {
	lazy.mu.Lock()
	defer lazy.mu.Unlock()
	if lazy.handle != nil {
		return lazy.handle, nil
	}
	h, err := p.AttachMedia(ctx, lazy.origin, lazy.spec)
	if err != nil {
		return nil, err
	}
	lazy.handle = h
	return h, nil
}
