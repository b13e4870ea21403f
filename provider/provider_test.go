package provider

import (
	"context"
	"testing"

	"github.com/quay/provisioncore/origin"
)

type fakeOpener struct {
	attachErr error
	attachN   int
}

func (f *fakeOpener) Attach(ctx context.Context, o *origin.MirroredOrigin, spec Spec, deviceIdx int) (string, error) {
	f.attachN++
	if f.attachErr != nil {
		err := f.attachErr
		f.attachErr = nil
		return "", err
	}
	return "/mnt/root", nil
}
func (f *fakeOpener) Detach(ctx context.Context, mountRoot string) {}
func (f *fakeOpener) Fetch(ctx context.Context, o *origin.MirroredOrigin, mountRoot, file string) (string, error) {
	return mountRoot + "/" + file, nil
}
func (f *fakeOpener) Exists(ctx context.Context, mountRoot, file string) bool { return true }

type fakeDialogue struct {
	devices []Device
	outcome Outcome
	newURL  string
}

func (f *fakeDialogue) Devices(ctx context.Context, o *origin.MirroredOrigin) []Device {
	return f.devices
}
func (f *fakeDialogue) Ask(ctx context.Context, problem Problem, o *origin.MirroredOrigin, devices []Device, currentIdx int) (Outcome, int, string) {
	return f.outcome, 0, f.newURL
}

func mustOrigin(t *testing.T, raw string) *origin.MirroredOrigin {
	t.Helper()
	ep, err := origin.NewEndpoint(raw, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	return origin.NewMirroredOrigin(ep)
}

func TestAttachMediaDedup(t *testing.T) {
	o := mustOrigin(t, "https://example.com/repo")
	opener := &fakeOpener{}
	p := New(&fakeDialogue{}, opener)

	h1, err := p.AttachMedia(t.Context(), o, Spec{Label: "repo"})
	if err != nil {
		t.Fatalf("AttachMedia: %v", err)
	}
	h2, err := p.AttachMedia(t.Context(), o, Spec{Label: "repo"})
	if err != nil {
		t.Fatalf("AttachMedia second call: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected the same handle for an identical medium")
	}
	if opener.attachN != 1 {
		t.Fatalf("expected exactly one underlying attach, got %d", opener.attachN)
	}
}

func TestAttachMediaJammedWhenNoFreeDevice(t *testing.T) {
	o := mustOrigin(t, "cd:/")
	opener := &fakeOpener{attachErr: &Error{Kind: ErrMedia, Message: "no disc"}}
	dlg := &fakeDialogue{devices: []Device{{Path: "/dev/sr0", Volatile: true, InUse: true}}}
	p := New(dlg, opener)

	_, err := p.AttachMedia(t.Context(), o, Spec{Label: "cd"})
	perr, ok := err.(*Error)
	if !ok || perr.Kind != ErrMediaJammed {
		t.Fatalf("expected ErrMediaJammed, got %v", err)
	}
}

func TestAttachMediaAbort(t *testing.T) {
	o := mustOrigin(t, "https://example.com/repo")
	opener := &fakeOpener{attachErr: &Error{Kind: ErrMedia, Message: "boom"}}
	dlg := &fakeDialogue{devices: []Device{{Path: "/mnt"}}, outcome: Abort}
	p := New(dlg, opener)

	_, err := p.AttachMedia(t.Context(), o, Spec{Label: "repo"})
	perr, ok := err.(*Error)
	if !ok || perr.Kind != ErrAbortRequest {
		t.Fatalf("expected ErrAbortRequest, got %v", err)
	}
}

func TestAttachMediaChangeURLRejectsInvalidURL(t *testing.T) {
	o := mustOrigin(t, "https://example.com/repo")
	opener := &fakeOpener{attachErr: &Error{Kind: ErrMedia, Message: "boom"}}
	dlg := &fakeDialogue{devices: []Device{{Path: "/mnt"}}, outcome: ChangeURL, newURL: "http://%zz"}
	p := New(dlg, opener)

	_, err := p.AttachMedia(t.Context(), o, Spec{Label: "repo"})
	perr, ok := err.(*Error)
	if !ok || perr.Kind != ErrMediaBadURL {
		t.Fatalf("expected ErrMediaBadURL, got %v", err)
	}
	if perr.Inner == nil {
		t.Fatal("expected the underlying URL parse error to be preserved")
	}
}

func TestClassifyAttachErrorMapsMediaNotDesiredToWrong(t *testing.T) {
	if got := classifyAttachError(&Error{Kind: ErrMediaNotDesired}); got != Wrong {
		t.Fatalf("expected ErrMediaNotDesired to classify as Wrong, got %v", got)
	}
}

func TestProvideCheckExistsOnly(t *testing.T) {
	o := mustOrigin(t, "https://example.com/repo")
	opener := &fakeOpener{}
	p := New(&fakeDialogue{}, opener)
	h, err := p.AttachMedia(t.Context(), o, Spec{Label: "repo"})
	if err != nil {
		t.Fatalf("AttachMedia: %v", err)
	}
	res, err := p.Provide(t.Context(), h, "repodata/repomd.xml", ProvideSpec{CheckExistsOnly: true})
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}
	if res.LocalPath != "" {
		t.Fatalf("checkExistsOnly call should not return a local path, got %q", res.LocalPath)
	}
}

func TestLazyMediaHandleIdempotent(t *testing.T) {
	o := mustOrigin(t, "https://example.com/repo")
	opener := &fakeOpener{}
	p := New(&fakeDialogue{}, opener)
	lazy := NewLazyMediaHandle(o, Spec{Label: "repo"})

	h1, err := p.AttachMediaIfNeeded(t.Context(), lazy)
	if err != nil {
		t.Fatalf("AttachMediaIfNeeded: %v", err)
	}
	h2, err := p.AttachMediaIfNeeded(t.Context(), lazy)
	if err != nil {
		t.Fatalf("AttachMediaIfNeeded second call: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected the same handle on repeated calls")
	}
	if opener.attachN != 1 {
		t.Fatalf("expected exactly one underlying attach, got %d", opener.attachN)
	}
}
