package servicewf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/quay/provisioncore/internal/httputil"
)

// DefaultIndexFetcher fetches a RIS service's repo/repoindex.xml over plain
// HTTP against the origin's authority endpoint (RIS mode has no mirror
// fan-out, spec §4.9), then hands the raw bytes to Parse. Parsing the
// repoindex.xml grammar itself is outside this core's scope — the same RIS
// boundary the distillation draws — so callers supply Parse; this type
// only owns the fetch-and-status-check half of the workflow, grounded on
// claircore's internal/httputil.CheckResponse for status validation.
type DefaultIndexFetcher struct {
	Client *http.Client
	Parse  func(data []byte) (Index, error)
}

// FetchIndex implements IndexFetcher.
func (f *DefaultIndexFetcher) FetchIndex(ctx context.Context, svc Service) (Index, error) {
	if svc.URL == nil {
		return Index{}, &Error{Kind: ErrFetch, Message: "service has no URL"}
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	u := svc.URL.Authority().URL()
	u.Path = path.Join(u.Path, "repo", "repoindex.xml")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Index{}, &Error{Kind: ErrFetch, Message: "build repoindex.xml request", Inner: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Index{}, &Error{Kind: ErrFetch, Message: "fetch repoindex.xml", Inner: err}
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(resp, http.StatusOK); err != nil {
		return Index{}, &Error{Kind: ErrFetch, Message: "unexpected repoindex.xml response", Inner: err}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Index{}, &Error{Kind: ErrFetch, Message: "read repoindex.xml body", Inner: err}
	}
	if f.Parse == nil {
		return Index{}, &Error{Kind: ErrParse, Message: "no repoindex.xml parser configured"}
	}
	idx, err := f.Parse(body)
	if err != nil {
		return Index{}, &Error{Kind: ErrParse, Message: fmt.Sprintf("parse repoindex.xml (%d bytes)", len(body)), Inner: err}
	}
	return idx, nil
}
