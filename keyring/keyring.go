// Package keyring implements the two-ring (trusted/general) key manager and
// the file-signature verification workflow of spec §4.4, built on top of
// keyadapter. Grounded on original_source/zypp/KeyRing.cc for the workflow
// sequencing, expressed with the pipeline package's Expected combinators per
// spec §4.1/§5, and on claircore's errors.go for the closed per-component
// error taxonomy (here renamed Error/ErrorKind to this package's domain).
package keyring

import (
	"bytes"
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/quay/provisioncore/keyadapter"
	"github.com/quay/provisioncore/pipeline"
)

// ErrorKind is the closed taxonomy for KeyRingException per spec §7.
type ErrorKind string

const (
	ErrImport ErrorKind = "import"
	ErrDelete ErrorKind = "delete"
	ErrVerify ErrorKind = "verify"
)

// Error is the KeyRingException wrapper.
type Error struct {
	Kind    ErrorKind
	Message string
	Inner   error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("keyring: %s: %s: %v", e.Kind, e.Message, e.Inner)
	}
	return fmt.Sprintf("keyring: %s: %s", e.Kind, e.Message)
}
func (e *Error) Unwrap() error { return e.Inner }

// TrustDecision is the user's answer when asked whether to trust a key
// found only in the general ring (spec §4.4 step 4).
type TrustDecision int

const (
	DontTrust TrustDecision = iota
	TrustOnce
	TrustAlways
)

// AcceptDecision is the user's answer when asked whether to accept an
// unsigned file, or a file whose signature failed to verify.
type AcceptDecision int

const (
	Reject AcceptDecision = iota
	Accept
)

// UserInterface is the callback surface the workflow uses to ask for
// consent; the embedding application binds it to its UI, per spec §7's
// reports interface.
type UserInterface interface {
	AcceptUnsigned(ctx context.Context, file string) AcceptDecision
	AcceptFailedVerification(ctx context.Context, file string, reason error) AcceptDecision
	TrustKey(ctx context.Context, key keyadapter.Key) TrustDecision
	AutoImportedBuddyKey(ctx context.Context, key keyadapter.Key)
}

// KeyProvider fetches a key hinted by a repository (spec §4.4 step 5); the
// repository workflow package supplies the concrete implementation (a
// provider-backed download into the pubkey cache).
type KeyProvider interface {
	ProvideAndImportKey(ctx context.Context, keyID string) (keyadapter.Key, bool, error)
}

// Manager owns the trusted and general keyrings. It is not safe for
// concurrent use from multiple goroutines against the same underlying
// directories without external synchronization; callers typically own one
// Manager per process, matching spec §5's "keyrings are guarded
// per-directory" note.
type Manager struct {
	trusted *keyadapter.Adapter
	general *keyadapter.Adapter
	ui      UserInterface
	keys    KeyProvider
}

// New constructs a Manager. ui and keys may be nil for read-only use
// (ListKeys, Import, Delete); the verification workflow requires both.
func New(ctx context.Context, ui UserInterface, keys KeyProvider) *Manager {
	return &Manager{
		trusted: keyadapter.New(ctx, false),
		general: keyadapter.New(ctx, false),
		ui:      ui,
		keys:    keys,
	}
}

// PublicKeys returns every key in the general ring.
func (m *Manager) PublicKeys() []keyadapter.Key { return m.general.ListKeys() }

// TrustedPublicKeys returns every key in the trusted ring.
func (m *Manager) TrustedPublicKeys() []keyadapter.Key { return m.trusted.ListKeys() }

// ImportKey imports raw key bytes, optionally directly into the trusted
// ring.
func (m *Manager) ImportKey(raw []byte, trusted bool) ([]keyadapter.Key, error) {
	ring := m.general
	if trusted {
		ring = m.trusted
	}
	keys, err := ring.ImportFromBytes(raw)
	if err != nil {
		return nil, &Error{Kind: ErrImport, Message: "import failed", Inner: err}
	}
	return keys, nil
}

func findByFingerprint(keys []keyadapter.Key, id string) (keyadapter.Key, bool) {
	for _, k := range keys {
		if k.Fingerprint == id || k.ShortID() == shortOf(id) {
			return k, true
		}
	}
	return keyadapter.Key{}, false
}

func shortOf(id string) string {
	if len(id) < 16 {
		return id
	}
	return id[len(id)-16:]
}

// DeleteKey removes a key by id from the requested ring. Infallible if the
// key isn't present (matches spec's general infallible-operation style for
// ring membership changes that aren't I/O boundaries).
func (m *Manager) DeleteKey(ctx context.Context, id string, trusted bool) {
	// keyadapter has no delete primitive (go-crypto keyrings are immutable
	// EntityLists); model deletion as a filtered rebuild from the kept
	// entities' own bytes.
	ring := m.general
	if trusted {
		ring = m.trusted
	}
	fresh := keyadapter.New(ctx, false)
	for _, k := range ring.ListKeys() {
		if k.Fingerprint == id {
			continue
		}
		if armored, err := keyadapter.ExportKey(k); err == nil {
			fresh.ImportFromBytes(armored) //nolint:errcheck // re-importing an entity's own export cannot fail.
		}
	}
	*ring = *fresh
}

// Context carries the inputs spec §3 assigns to a signature-verification
// context: the file under verification, its optional detached signature,
// optional key file, the buddy key ids the repository hinted at, and a
// label describing where the file came from (used only for logging).
type Context struct {
	FileLabel   string
	File        []byte
	Signature   []byte // nil if unsigned
	KeyFile     []byte // nil if no accompanying key file
	BuddyKeyIDs []string
	RepoAlias   string
}

// Result is the tri-state verification outcome spec §3 describes.
type Result struct {
	SignatureID        string
	SignatureIDTrusted bool
	FileValidated      bool
	FileAccepted       bool
}

// VerifyFileSignatureWorkflow runs the seven-step procedure in spec §4.4.
func (m *Manager) VerifyFileSignatureWorkflow(ctx context.Context, vctx Context) pipeline.Expected[Result] {
	ctx = zlog.ContextWithValues(ctx, "component", "keyring.Manager.VerifyFileSignatureWorkflow", "file", vctx.FileLabel)

	if len(vctx.Signature) == 0 {
		accepted := m.ui.AcceptUnsigned(ctx, vctx.FileLabel) == Accept
		return pipeline.Ok(Result{FileAccepted: accepted})
	}

	signerID, err := keyadapter.ReadSignatureKeyID(vctx.Signature)
	if err != nil {
		return pipeline.Err[Result](&Error{Kind: ErrVerify, Message: "unreadable signature", Inner: err})
	}

	buddies := m.filterBuddies(vctx.BuddyKeyIDs, signerID)

	var signerTrusted bool
	if k, ok := findByFingerprint(m.trusted.ListKeys(), signerID); ok {
		m.preferNewerGeneral(k)
		signerTrusted = true
	} else if k, ok := findByFingerprint(m.general.ListKeys(), signerID); ok {
		switch m.ui.TrustKey(ctx, k) {
		case TrustAlways:
			armored, err := keyadapter.ExportKey(k)
			if err != nil {
				return pipeline.Err[Result](&Error{Kind: ErrImport, Message: "re-export for trust promotion failed", Inner: err})
			}
			if _, err := m.ImportKey(armored, true); err != nil {
				return pipeline.Err[Result](err)
			}
			signerTrusted = true
		case TrustOnce:
		default:
			return pipeline.Ok(Result{SignatureID: signerID})
		}
	} else if vctx.RepoAlias != "" && m.keys != nil {
		if _, imported, err := m.keys.ProvideAndImportKey(ctx, signerID); err != nil || !imported {
			return pipeline.Ok(Result{SignatureID: signerID})
		}
	} else {
		return pipeline.Ok(Result{SignatureID: signerID})
	}

	ring := m.general
	if signerTrusted {
		ring = m.trusted
	}
	_, verr := ring.VerifyDetachedFile(bytes.NewReader(vctx.File), vctx.Signature)
	if verr != nil {
		accepted := m.ui.AcceptFailedVerification(ctx, vctx.FileLabel, verr) == Accept
		return pipeline.Ok(Result{SignatureID: signerID, SignatureIDTrusted: signerTrusted, FileAccepted: accepted})
	}

	if signerTrusted {
		for _, b := range buddies {
			if k, ok := findByFingerprint(m.general.ListKeys(), b); ok {
				armored, err := keyadapter.ExportKey(k)
				if err != nil {
					continue
				}
				if _, err := m.ImportKey(armored, true); err == nil {
					m.ui.AutoImportedBuddyKey(ctx, k)
				}
			}
		}
	}

	return pipeline.Ok(Result{
		SignatureID:        signerID,
		SignatureIDTrusted: signerTrusted,
		FileValidated:      true,
		FileAccepted:       true,
	})
}

// filterBuddies drops buddy key ids that are too short, already trusted,
// unknown, or identical to the signing key, per spec §4.4 step 2.
func (m *Manager) filterBuddies(ids []string, signerID string) []string {
	var out []string
	for _, id := range ids {
		switch {
		case len(shortOf(id)) < 16:
		case shortOf(id) == shortOf(signerID):
		case func() bool { _, ok := findByFingerprint(m.trusted.ListKeys(), id); return ok }():
		case func() bool { _, ok := findByFingerprint(m.general.ListKeys(), id); return !ok }():
		default:
			out = append(out, id)
		}
	}
	return out
}

// preferNewerGeneral implements spec §4.4 step 3: if a newer copy of the
// same fingerprint exists in the general ring, re-import it into trusted
// before using it.
func (m *Manager) preferNewerGeneral(trustedKey keyadapter.Key) {
	gk, ok := findByFingerprint(m.general.ListKeys(), trustedKey.Fingerprint)
	if !ok || gk.CreatedAt <= trustedKey.CreatedAt {
		return
	}
	armored, err := keyadapter.ExportKey(gk)
	if err != nil {
		return
	}
	m.ImportKey(armored, true) //nolint:errcheck // best-effort refresh; verification still proceeds against the existing trusted key.
}
