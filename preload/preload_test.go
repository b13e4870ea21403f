package preload

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/quay/provisioncore/checksum"
	"github.com/quay/provisioncore/origin"
)

func mustOrigin(t *testing.T, raw string) *origin.MirroredOrigin {
	t.Helper()
	ep, err := origin.NewEndpoint(raw, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	return origin.NewMirroredOrigin(ep)
}

func TestRunFetchesAndVerifies(t *testing.T) {
	body := []byte("package-payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sum := checksum.MustParse("sha256:" + sha256Hex(body))
	o := mustOrigin(t, srv.URL)

	p := New(srv.Client(), 2, dir, nil)
	out := p.Run(t.Context(), []Job{{Repo: o, Basename: "repomd.xml", Digest: sum}})

	if len(out.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out.Results))
	}
	r := out.Results[0]
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "repomd.xml"))
	if err != nil {
		t.Fatalf("reading fetched file: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("fetched content mismatch: got %q", got)
	}
}

func TestRunSkipsWhenChecksumMatchesOnDisk(t *testing.T) {
	body := []byte("already-have-this")
	dir := t.TempDir()
	target := filepath.Join(dir, "primary.xml")
	if err := os.WriteFile(target, body, 0644); err != nil {
		t.Fatal(err)
	}
	sum := checksum.MustParse("sha256:" + sha256Hex(body))
	o := mustOrigin(t, "https://example.invalid/repo")

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	p := New(srv.Client(), 1, dir, nil)
	out := p.Run(t.Context(), []Job{{Repo: o, Basename: "primary.xml", Digest: sum}})

	if !out.Results[0].Skipped {
		t.Fatal("expected the job to be skipped due to a checksum match on disk")
	}
	if calls != 0 {
		t.Fatalf("expected no network calls, got %d", calls)
	}
}

func sha256Hex(b []byte) string {
	d, _ := checksum.New("sha256", nil)
	h := d.Hash()
	h.Write(b)
	sum := h.Sum(nil)
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, c := range sum {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0xf]
	}
	return string(out)
}
