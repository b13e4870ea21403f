package transfer

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"

	"github.com/quay/provisioncore/checksum"
)

// zstdMagic is the four-byte frame header zchunk writes at the start of
// each zstd-compressed block; blocks stored with DataStaysCompressed off
// carry no such header and are copied through unchanged. Grounded on
// claircore's internal/indexer/fetcher.detectCompression, which sniffs a
// payload's leading bytes instead of trusting a declared content-type.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// decompressZchunkBlock un-zstds data if it carries the zstd frame magic,
// and returns it unchanged otherwise (zchunk permits per-block compression
// to be skipped when it wouldn't shrink the block).
func decompressZchunkBlock(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

// ZchunkBlock is one entry from a zchunk header's block list: the byte
// range of the block in the remote file, its expected checksum, and any
// trailing padding the format appends before the digest comparison.
type ZchunkBlock struct {
	Offset   int64
	Length   int64
	Sum      checksum.Digest
	Padding  int64
	CompareN int64
}

// ZchunkLoader is implemented by whatever already has the local copy of
// the delta's previous version on disk; it supplies the block list that
// still needs downloading and receives each block's bytes as they arrive.
type ZchunkLoader interface {
	// NeededBlocks returns the blocks not already present locally
	// (matched by checksum against the previous file), in ascending
	// offset order.
	NeededBlocks(ctx context.Context) ([]ZchunkBlock, error)
	// WriteBlock is called once per block with its validated bytes.
	WriteBlock(ctx context.Context, block ZchunkBlock, data []byte) error
}

// DownloadZchunk drives a zchunk-aware transfer: it asks loader for the
// still-needed blocks, translates them into engine Ranges, and runs the
// engine to completion. If the server rejects ranged requests
// (ErrRangeFail) and CanRecover reports no smaller batch size left (the
// engine stops shrinking at 5 ranges per request), it falls back to a
// plain full-file download through fallback.
func DownloadZchunk(ctx context.Context, e *Engine, loader ZchunkLoader, fallback func(ctx context.Context) error) error {
	ctx = zlog.ContextWithValues(ctx, "component", "transfer.DownloadZchunk", "url", e.URL)

	blocks, err := loader.NeededBlocks(ctx)
	if err != nil {
		return &Error{Kind: ErrInternal, URL: e.URL, Inner: err}
	}
	if len(blocks) == 0 {
		zlog.Debug(ctx).Msg("zchunk: no blocks needed, file already complete")
		return nil
	}

	ranges := make([]*Range, len(blocks))
	for i, b := range blocks {
		ranges[i] = &Range{
			Start:      b.Offset,
			Len:        b.Length,
			Digest:     b.Sum,
			CompareLen: b.CompareN,
			Padding:    b.Padding,
		}
	}
	e.ranges = ranges
	recv := &zchunkWriter{ctx: ctx, loader: loader, blocks: blocks, bufs: make(map[int][]byte)}

	for {
		err := e.Run(ctx, recv)
		if err == nil {
			if verr := e.VerifyData(); verr != nil {
				return verr
			}
			return nil
		}
		var terr *Error
		if te, ok := err.(*Error); ok {
			terr = te
		}
		if terr != nil && terr.Kind == ErrRangeFail {
			if e.CanRecover() {
				zlog.Debug(ctx).Msg("zchunk: RangeFail, trying with a smaller batch")
				e.PrepareToContinue()
				continue
			}
			zlog.Info(ctx).Msg("zchunk: server refuses ranges, falling back to full-file download")
			return fallback(ctx)
		}
		return err
	}
}

// zchunkWriter is the real Receiver implementation used by DownloadZchunk;
// it buffers the active range's bytes and flushes a completed block to the
// loader on FinishedRange.
type zchunkWriter struct {
	ctx    context.Context
	loader ZchunkLoader
	blocks []ZchunkBlock
	bufs   map[int][]byte
	active int
}

func (z *zchunkWriter) WriteFunc(data []byte, offset *int64) error {
	z.bufs[z.active] = append(z.bufs[z.active], data...)
	return nil
}

func (z *zchunkWriter) BeginRange(rangeIdx int) (bool, string) {
	z.active = rangeIdx
	return true, ""
}

func (z *zchunkWriter) FinishedRange(rangeIdx int, validated bool) (bool, string) {
	if !validated {
		delete(z.bufs, rangeIdx)
		return true, ""
	}
	block := z.blocks[rangeIdx]
	data := z.bufs[rangeIdx]
	delete(z.bufs, rangeIdx)
	plain, err := decompressZchunkBlock(data)
	if err != nil {
		return false, err.Error()
	}
	if err := z.loader.WriteBlock(z.ctx, block, plain); err != nil {
		return false, err.Error()
	}
	return true, ""
}
