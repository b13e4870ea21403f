package keyadapter

import (
	"bytes"
	"context"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func generateTestKey(t *testing.T, name string) (armored []byte) {
	t.Helper()
	ent, err := openpgp.NewEntity(name, "", name+"@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor.Encode: %v", err)
	}
	if err := ent.Serialize(w); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestImportAndShortID(t *testing.T) {
	ctx := context.Background()
	a := New(ctx, false)
	armored := generateTestKey(t, "test key")

	keys, err := a.ImportFromBytes(armored)
	if err != nil {
		t.Fatalf("ImportFromBytes: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if len(keys[0].ShortID()) != 16 {
		t.Fatalf("ShortID() = %q, want 16 hex chars", keys[0].ShortID())
	}
	if got := len(a.ListKeys()); got != 1 {
		t.Fatalf("ListKeys() = %d, want 1", got)
	}
}

func TestVolatileImportReplacesKeyring(t *testing.T) {
	ctx := context.Background()
	a := New(ctx, true)
	if _, err := a.ImportFromBytes(generateTestKey(t, "first")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ImportFromBytes(generateTestKey(t, "second")); err != nil {
		t.Fatal(err)
	}
	if got := len(a.ListKeys()); got != 1 {
		t.Fatalf("volatile adapter should only hold the most recent import, got %d keys", got)
	}
}
