package keyring

import (
	"context"
	"testing"

	"github.com/quay/provisioncore/keyadapter"
)

type fakeUI struct {
	acceptUnsigned bool
	trust          TrustDecision
	autoImported   []keyadapter.Key
}

func (f *fakeUI) AcceptUnsigned(ctx context.Context, file string) AcceptDecision {
	if f.acceptUnsigned {
		return Accept
	}
	return Reject
}
func (f *fakeUI) AcceptFailedVerification(ctx context.Context, file string, reason error) AcceptDecision {
	return Reject
}
func (f *fakeUI) TrustKey(ctx context.Context, key keyadapter.Key) TrustDecision { return f.trust }
func (f *fakeUI) AutoImportedBuddyKey(ctx context.Context, key keyadapter.Key) {
	f.autoImported = append(f.autoImported, key)
}

func TestUnsignedFileAsksUser(t *testing.T) {
	ctx := context.Background()
	ui := &fakeUI{acceptUnsigned: true}
	m := New(ctx, ui, nil)

	res := m.VerifyFileSignatureWorkflow(ctx, Context{FileLabel: "repomd.xml"})
	r, ok := res.Value()
	if !ok {
		t.Fatalf("unexpected error: %v", res.Error())
	}
	if !r.FileAccepted {
		t.Fatal("expected unsigned file to be accepted when the UI says so")
	}
	if r.FileValidated {
		t.Fatal("an unsigned file must never be marked validated")
	}
}

func TestUnreadableSignatureIsError(t *testing.T) {
	ctx := context.Background()
	ui := &fakeUI{}
	m := New(ctx, ui, nil)

	// Bytes that are not an OpenPGP signature at all: the workflow should
	// fail to even read a key id from them and return an error rather
	// than panicking.
	res := m.VerifyFileSignatureWorkflow(ctx, Context{
		FileLabel: "repomd.xml.asc",
		File:      []byte("data"),
		Signature: []byte("not a signature"),
	})
	if res.IsOk() {
		t.Fatal("expected an unreadable signature to produce an error")
	}
}
