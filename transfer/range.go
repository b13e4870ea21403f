// Package transfer implements the multi-range HTTP(S) transfer engine of
// spec §4.5: range batching against a descending series, coalescing of
// consecutive ranges into one Range header, multipart/byteranges response
// parsing, per-range digest verification, and a zchunk-aware recovery
// model. Grounded on original_source/zypp-curl/ng/network/{request,
// curlmultiparthandler}.cc for the batching/recovery state machine, and on
// claircore's internal/indexer/fetcher.fetcher for the idiomatic-Go shape
// of a single-purpose HTTP download worker (net/http client, io.TeeReader
// over a hasher, atomic rename on success).
package transfer

import (
	"fmt"

	"github.com/quay/provisioncore/checksum"
)

// RangeState is the per-range state machine of spec §4.3/§4.5: Pending ->
// Running -> (Finished | Error), never regressing once Finished or Error.
type RangeState int

const (
	RangePending RangeState = iota
	RangeRunning
	RangeFinished
	RangeError
)

func (s RangeState) String() string {
	switch s {
	case RangePending:
		return "pending"
	case RangeRunning:
		return "running"
	case RangeFinished:
		return "finished"
	case RangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Range is one requested byte range, spec §3 "Range request".
type Range struct {
	Start int64
	Len   int64 // 0 means open end

	BytesWritten int64
	State        RangeState

	// Digest, if set, is computed over the payload followed by Padding zero
	// bytes, and must match (on its first CompareLen bytes) before the
	// range may transition to Finished.
	Digest     checksum.Digest
	CompareLen int64 // 0 means compare the whole digest
	Padding    int64
}

// Open reports whether r has no declared end (len == 0); only the last
// range in a request may be open, per spec §3.
func (r Range) Open() bool { return r.Len == 0 }

// End returns the inclusive end offset for a closed range.
func (r Range) End() int64 { return r.Start + r.Len - 1 }

// canFinish reports whether r has received all the bytes it was promised.
func (r Range) canFinish() bool {
	if r.Open() {
		return r.State != RangePending
	}
	return r.BytesWritten >= r.Len
}

// format renders r the way an HTTP Range header entry does: "start-end" for
// closed ranges, "start-" for an open one.
func (r Range) format() string {
	if r.Open() {
		return fmt.Sprintf("%d-", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End())
}

// FormatRanges renders a coalesced set of requested ranges (consecutive
// ranges merged) into the value of a single Range: header, per spec §4.5
// "Range coalescing".
func FormatRanges(ranges []Range) string {
	merged := coalesce(ranges)
	out := "bytes="
	for i, g := range merged {
		if i > 0 {
			out += ","
		}
		out += g.format()
	}
	return out
}

// coalesce merges consecutive (touching or overlapping) ranges into single
// spans for the wire format, while the caller retains the original Range
// values for independent per-range digest tracking.
func coalesce(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]Range, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		if !cur.Open() && r.Start <= cur.End()+1 {
			if r.Open() {
				cur.Len = 0
			} else if end := r.End(); end > cur.End() {
				cur.Len = end - cur.Start + 1
			}
			continue
		}
		out = append(out, cur)
		cur = r
	}
	return append(out, cur)
}

// ParseRange parses a single "start-end" or "start-" span as produced by
// format, the inverse used by spec §8's round-trip property
// parseRange(format(R)) == R.
func ParseRange(s string) (Range, error) {
	var start, end int64
	var dashIdx int = -1
	for i, c := range s {
		if c == '-' {
			dashIdx = i
			break
		}
	}
	if dashIdx < 0 {
		return Range{}, fmt.Errorf("transfer: malformed range %q", s)
	}
	if _, err := fmt.Sscanf(s[:dashIdx], "%d", &start); err != nil {
		return Range{}, fmt.Errorf("transfer: malformed range start %q: %w", s, err)
	}
	if dashIdx == len(s)-1 {
		return Range{Start: start}, nil
	}
	if _, err := fmt.Sscanf(s[dashIdx+1:], "%d", &end); err != nil {
		return Range{}, fmt.Errorf("transfer: malformed range end %q: %w", s, err)
	}
	return Range{Start: start, Len: end - start + 1}, nil
}
