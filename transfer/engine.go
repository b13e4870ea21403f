package transfer

import (
	"context"
	"fmt"
	"hash"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/quay/zlog"
)

// batchSeries is the fixed descending batch-size series spec §4.5
// mandates; the engine never auto-falls back to a single range (index
// len(batchSeries)-1 stays at 1, a terminal state the caller must react to
// by switching to a plain full-file download).
var batchSeries = []int{255, 127, 63, 15, 5, 1}

// Receiver is the data-sink interface the engine drives, mirroring the
// source's CurlMultiPartDataReceiver: every byte goes through WriteFunc
// with the file offset it belongs at, and range boundaries are announced
// through BeginRange/FinishedRange so the caller can veto continuing.
type Receiver interface {
	WriteFunc(data []byte, offset *int64) error
	BeginRange(rangeIdx int) (cont bool, reason string)
	FinishedRange(rangeIdx int, validated bool) (cont bool, reason string)
}

// Engine drives a single logical resource's multi-range transfer over one
// *http.Client. It is not safe for concurrent use; the preloader (spec
// §4.7) gives each worker its own Engine.
type Engine struct {
	Client *http.Client
	URL    string
	Header http.Header

	ranges     []*Range
	batchIndex int
	lastErr    ErrorKind
}

// New constructs an Engine for the given URL and ranges. Ranges must be
// sorted by Start; the engine does not sort them itself so that the caller
// (which usually derives them from a zchunk block list or a single
// full-file request) retains control of ordering.
func New(client *http.Client, url string, header http.Header, ranges []*Range) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Engine{Client: client, URL: url, Header: header, ranges: ranges}
	return e
}

// BatchSize returns the number of ranges the engine will request per HTTP
// round-trip at the current recovery index.
func (e *Engine) BatchSize() int { return batchSeries[e.batchIndex] }

// pending returns the subset of ranges neither Finished nor Error, capped
// to the current batch size.
func (e *Engine) pending() []*Range {
	var out []*Range
	for _, r := range e.ranges {
		if r.State == RangeFinished || r.State == RangeError {
			continue
		}
		out = append(out, r)
		if len(out) == e.BatchSize() {
			break
		}
	}
	return out
}

// Run issues one HTTP round-trip covering as many pending ranges as the
// current batch size allows, dispatching response bytes to recv. It
// returns a *Error on any failure.
func (e *Engine) Run(ctx context.Context, recv Receiver) error {
	zlog.Debug(ctx).Str("component", "transfer.Engine.Run").Str("url", e.URL).Int("batch", e.BatchSize()).Msg("starting range request")

	batch := e.pending()
	if len(batch) == 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return &Error{Kind: ErrMalformedURL, URL: e.URL, Inner: err}
	}
	for k, vs := range e.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	plain := make([]Range, len(batch))
	for i, r := range batch {
		plain[i] = *r
	}
	if len(batch) > 1 || batch[0].Start != 0 || !batch[0].Open() {
		req.Header.Set("Range", FormatRanges(plain))
	}

	for _, r := range batch {
		r.State = RangeRunning
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		e.lastErr = ErrConnectionFailed
		return &Error{Kind: ErrConnectionFailed, URL: e.URL, Inner: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if len(batch) > 1 || req.Header.Get("Range") != "" {
			e.lastErr = ErrRangeFail
			return &Error{Kind: ErrRangeFail, URL: e.URL}
		}
		return e.consumeWhole(resp.Body, batch[0], recv, 0)
	case http.StatusPartialContent:
		return e.consumePartial(ctx, resp, batch, recv)
	case http.StatusRequestedRangeNotSatisfiable:
		e.lastErr = ErrRangeFail
		return &Error{Kind: ErrRangeFail, URL: e.URL}
	case http.StatusNotFound:
		return &Error{Kind: ErrNotFound, URL: e.URL}
	case http.StatusForbidden:
		return &Error{Kind: ErrForbidden, URL: e.URL}
	case http.StatusUnauthorized:
		return &Error{Kind: ErrUnauthorized, URL: e.URL}
	default:
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			e.lastErr = ErrRangeFail
			return &Error{Kind: ErrRangeFail, URL: e.URL}
		}
		return &Error{Kind: ErrServerReturnedError, URL: e.URL, Inner: fmt.Errorf("status %s", resp.Status)}
	}
}

func (e *Engine) consumeWhole(body io.Reader, r *Range, recv Receiver, idx int) error {
	var h hash.Hash
	var sink io.Writer = io.Discard
	if !r.Digest.IsZero() {
		h = r.Digest.Hash()
		sink = h
	}
	tee := io.TeeReader(body, sink)
	buf := make([]byte, 32*1024)
	offset := r.Start
	first := true
	for {
		n, err := tee.Read(buf)
		if n > 0 {
			var off *int64
			if first {
				off = &offset
				first = false
			}
			if werr := recv.WriteFunc(buf[:n], off); werr != nil {
				return &Error{Kind: ErrInternal, Inner: werr}
			}
			r.BytesWritten += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return &Error{Kind: ErrConnectionFailed, Inner: err}
		}
	}
	var sum []byte
	if h != nil {
		if r.Padding > 0 {
			h.Write(make([]byte, r.Padding))
		}
		sum = h.Sum(nil)
	}
	return e.finalizeRange(r, sum, idx, recv)
}

func (e *Engine) consumePartial(ctx context.Context, resp *http.Response, batch []*Range, recv Receiver) error {
	ct := resp.Header.Get("Content-Type")
	mediaType, params, _ := mime.ParseMediaType(ct)
	if strings.HasPrefix(mediaType, "multipart/") {
		return e.consumeMultipart(resp.Body, params["boundary"], batch, recv)
	}
	// Single-range 206 response: Content-Range identifies which of our
	// requested ranges this is.
	cr := resp.Header.Get("Content-Range")
	start, _, _, err := parseContentRange(cr)
	if err != nil {
		return &Error{Kind: ErrInternal, Inner: err}
	}
	idx, r := findRangeByStart(batch, start)
	if r == nil {
		return &Error{Kind: ErrInternal, Inner: fmt.Errorf("transfer: unmatched Content-Range %q", cr)}
	}
	cont, reason := recv.BeginRange(idx)
	if !cont {
		return &Error{Kind: ErrCancelled, Inner: fmt.Errorf("%s", reason)}
	}
	return e.consumeWhole(resp.Body, r, recv, idx)
}

func (e *Engine) consumeMultipart(body io.Reader, boundary string, batch []*Range, recv Receiver) error {
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &Error{Kind: ErrInternal, Inner: err}
		}
		cr := part.Header.Get("Content-Range")
		start, _, _, err := parseContentRange(cr)
		if err != nil {
			part.Close()
			return &Error{Kind: ErrInternal, Inner: err}
		}
		idx, r := findRangeByStart(batch, start)
		if r == nil {
			part.Close()
			continue
		}
		cont, reason := recv.BeginRange(idx)
		if !cont {
			part.Close()
			return &Error{Kind: ErrCancelled, Inner: fmt.Errorf("%s", reason)}
		}
		if err := e.consumeWhole(part, r, recv, idx); err != nil {
			part.Close()
			return err
		}
		part.Close()
	}
	return nil
}

func (e *Engine) finalizeRange(r *Range, sum []byte, idx int, recv Receiver) error {
	validated := true
	if !r.Digest.IsZero() {
		want := r.Digest.Checksum()
		validated = compareChecksum(sum, want, r.CompareLen)
	}
	if !validated {
		r.State = RangeError
	} else {
		r.State = RangeFinished
	}
	cont, reason := recv.FinishedRange(idx, validated)
	if !cont {
		return &Error{Kind: ErrCancelled, Inner: fmt.Errorf("%s", reason)}
	}
	if !validated {
		return &Error{Kind: ErrInvalidChecksum}
	}
	return nil
}

func compareChecksum(got, want []byte, compareLen int64) bool {
	if compareLen > 0 && int(compareLen) < len(got) {
		got = got[:compareLen]
	}
	if compareLen > 0 && int(compareLen) < len(want) {
		want = want[:compareLen]
	}
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func findRangeByStart(batch []*Range, start int64) (int, *Range) {
	for i, r := range batch {
		if r.Start == start {
			return i, r
		}
	}
	return -1, nil
}

func parseContentRange(h string) (start, end, total int64, err error) {
	// "bytes S-E/T"
	h = strings.TrimPrefix(h, "bytes ")
	slash := strings.IndexByte(h, '/')
	if slash < 0 {
		return 0, 0, 0, fmt.Errorf("transfer: malformed Content-Range %q", h)
	}
	span := h[:slash]
	dash := strings.IndexByte(span, '-')
	if dash < 0 {
		return 0, 0, 0, fmt.Errorf("transfer: malformed Content-Range %q", h)
	}
	start, err = strconv.ParseInt(span[:dash], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	end, err = strconv.ParseInt(span[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	totalStr := h[slash+1:]
	if totalStr != "*" {
		total, err = strconv.ParseInt(totalStr, 10, 64)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	return start, end, total, nil
}

// CanRecover reports whether the engine can retry at a smaller batch size
// after its last error, per spec §4.5: the last error must be RangeFail,
// a smaller batch size short of the series' final size-1 entry must
// remain (the engine never auto-falls to a single range), and at least
// one range must still be pending.
func (e *Engine) CanRecover() bool {
	if e.lastErr != ErrRangeFail {
		return false
	}
	if e.batchIndex >= len(batchSeries)-2 {
		return false
	}
	for _, r := range e.ranges {
		if r.State != RangeFinished && r.State != RangeError {
			return true
		}
	}
	return false
}

// PrepareToContinue advances the batch-size index after a RangeFail and
// resets the client's idle connections, matching spec's "resets the
// underlying connection handle to defaults" to avoid residual read-state
// errors on the next attempt.
func (e *Engine) PrepareToContinue() {
	e.batchIndex++
	for _, r := range e.ranges {
		if r.State == RangeRunning {
			r.State = RangePending
		}
	}
	if t, ok := e.Client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// VerifyData classifies the engine's terminal state, per spec §4.5: the
// first failure found wins, and overall success requires every range
// Finished.
func (e *Engine) VerifyData() error {
	for _, r := range e.ranges {
		switch r.State {
		case RangeFinished:
			continue
		case RangePending, RangeRunning:
			return &Error{Kind: ErrMissingData, URL: e.URL}
		case RangeError:
			if !r.Digest.IsZero() {
				return &Error{Kind: ErrInvalidChecksum, URL: e.URL}
			}
			return &Error{Kind: ErrInternal, URL: e.URL}
		}
	}
	return nil
}
