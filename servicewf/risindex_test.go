package servicewf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quay/provisioncore/origin"
)

func TestDefaultIndexFetcherFetchesAndParses(t *testing.T) {
	const payload = "<repoindex/>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repo/repoindex.xml" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	ep, err := origin.NewEndpoint(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	var gotBody string
	f := &DefaultIndexFetcher{
		Parse: func(data []byte) (Index, error) {
			gotBody = string(data)
			return Index{TTL: 3600}, nil
		},
	}
	idx, err := f.FetchIndex(t.Context(), Service{Mode: ModeRIS, URL: origin.NewMirroredOrigin(ep)})
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if gotBody != payload {
		t.Fatalf("parser saw %q, want %q", gotBody, payload)
	}
	if idx.TTL != 3600 {
		t.Fatalf("unexpected index: %+v", idx)
	}
}

func TestDefaultIndexFetcherRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ep, err := origin.NewEndpoint(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := &DefaultIndexFetcher{Parse: func([]byte) (Index, error) { return Index{}, nil }}
	_, err = f.FetchIndex(t.Context(), Service{Mode: ModeRIS, URL: origin.NewMirroredOrigin(ep)})
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}
