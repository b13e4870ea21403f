// Package preload implements the concurrent pre-fetch of a whole install
// transaction into the per-repo predownload cache, spec §4.7. Grounded on
// claircore's internal/indexer/fetcher.fetcher (the .part-tempfile +
// TeeReader-over-hash write discipline and the errgroup fan-out shape) and
// internal/indexer/layerscanner.layerScanner (bounded concurrency via a
// token channel / semaphore), generalized here to mirror-pinned,
// per-mirror-tainting workers against a transfer.Engine instead of a
// single HTTP GET. Progress reporting is throttled with a
// golang.org/x/time/rate limiter, the same package rhel/internal/common
// and rhel/rhcc use to rate-limit their own periodic refetches.
package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/quay/provisioncore/checksum"
	"github.com/quay/provisioncore/origin"
	"github.com/quay/provisioncore/reports"
	"github.com/quay/provisioncore/transfer"
)

// Job is one predownload step: fetch Basename from Repo's mirror set into
// the predownload cache, expecting it to hash to Digest (as provided by
// the dependency solver).
type Job struct {
	Repo     *origin.MirroredOrigin
	Basename string
	Digest   checksum.Digest
	Size     int64

	// id correlates this job's log lines across workers; assigned by Run
	// if the caller leaves it as the zero UUID.
	id uuid.UUID
}

// Reporter receives throttled progress updates; implementations must
// return quickly. A nil Reporter disables progress reporting.
type Reporter interface {
	Progress(done, total int)
}

// Result is one job's outcome.
type Result struct {
	Job       Job
	LocalPath string
	Skipped   bool // checksum already matched on disk
	Err       error
}

// Outcome is the overall result of a Run call.
type Outcome struct {
	Results []Result
	Missed  bool // true if the run was cancelled before every job finished
}

// Preloader drives bounded-concurrency predownload fetches.
type Preloader struct {
	Client          *http.Client
	MaxConcurrent   int64
	PredownloadRoot string
	Reporter        Reporter

	// Report receives mirror-exhaustion and taint warnings as spec §7's
	// user-visible reporting surface. Defaults to reports.Null.
	Report reports.Report
}

// New constructs a Preloader. maxConcurrent <= 0 is treated as 1.
func New(client *http.Client, maxConcurrent int64, predownloadRoot string, reporter Reporter) *Preloader {
	if client == nil {
		client = http.DefaultClient
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Preloader{Client: client, MaxConcurrent: maxConcurrent, PredownloadRoot: predownloadRoot, Reporter: reporter, Report: reports.Null{}}
}

func (p *Preloader) report() reports.Report {
	if p.Report == nil {
		return reports.Null{}
	}
	return p.Report
}

// Run fetches every job not already satisfied by the predownload cache,
// bounded to MaxConcurrent concurrent workers, per spec §4.7.
func (p *Preloader) Run(ctx context.Context, jobs []Job) Outcome {
	ctx = zlog.ContextWithValues(ctx, "component", "preload.Preloader.Run")

	pools := make(map[*origin.MirroredOrigin]*mirrorPool)
	var poolMu sync.Mutex
	poolFor := func(o *origin.MirroredOrigin) *mirrorPool {
		poolMu.Lock()
		defer poolMu.Unlock()
		if mp, ok := pools[o]; ok {
			return mp
		}
		mp := newMirrorPool(o)
		pools[o] = mp
		return mp
	}

	sem := semaphore.NewWeighted(p.MaxConcurrent)
	results := make([]Result, len(jobs))

	var progressMu sync.Mutex
	var done int
	progressRate := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
	reportProgress := func() {
		if p.Reporter == nil {
			return
		}
		progressMu.Lock()
		done++
		d := done
		progressMu.Unlock()
		if progressRate.Allow() || d == len(jobs) {
			p.Reporter.Progress(d, len(jobs))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var missed bool
	var missedMu sync.Mutex

	for i, j := range jobs {
		i, j := i, j
		if j.id == uuid.Nil {
			j.id = uuid.New()
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			missedMu.Lock()
			missed = true
			missedMu.Unlock()
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			select {
			case <-gctx.Done():
				missedMu.Lock()
				missed = true
				missedMu.Unlock()
				return nil
			default:
			}
			res := p.runJob(gctx, j, poolFor(j.Repo))
			results[i] = res
			reportProgress()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // runJob never returns an error through the group; failures are recorded per-Result.

	return Outcome{Results: results, Missed: missed}
}

func (p *Preloader) runJob(ctx context.Context, j Job, pool *mirrorPool) Result {
	ctx = zlog.ContextWithValues(ctx, "job", j.id.String())
	target := filepath.Join(p.PredownloadRoot, j.Basename)

	if matchesOnDisk(target, j.Digest) {
		return Result{Job: j, LocalPath: target, Skipped: true}
	}
	os.Remove(target) //nolint:errcheck // best-effort cleanup of a partial/stale file before restarting.

	for {
		ep, idx, ok := pool.Acquire()
		if !ok {
			return Result{Job: j, Err: fmt.Errorf("preload: every mirror for %s is exhausted", j.Basename)}
		}
		path, err := p.fetchOne(ctx, ep, j, target)
		pool.Release(idx)
		if err == nil {
			return Result{Job: j, LocalPath: path}
		}
		if isFatalTransportError(err) {
			pool.Taint(idx)
			p.report().Warning(ctx, fmt.Sprintf("mirror failed fetching %s, trying another", j.Basename))
			if pool.AllTainted() {
				p.report().Error(ctx, fmt.Sprintf("every mirror exhausted fetching %s", j.Basename))
				return Result{Job: j, Err: err}
			}
			continue
		}
		return Result{Job: j, Err: err}
	}
}

func isFatalTransportError(err error) bool {
	te, ok := err.(*transfer.Error)
	if !ok {
		return true
	}
	switch te.Kind {
	case transfer.ErrConnectionFailed, transfer.ErrTimeout, transfer.ErrForbidden, transfer.ErrNotFound, transfer.ErrUnauthorized, transfer.ErrServerReturnedError:
		return true
	default:
		return false
	}
}

func matchesOnDisk(path string, want checksum.Digest) bool {
	if want.IsZero() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	h := want.Hash()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return want.Equal(mustDigest(want.Algorithm(), h.Sum(nil)))
}

func mustDigest(algo string, sum []byte) checksum.Digest {
	d, _ := checksum.New(algo, sum)
	return d
}

// fetchOne downloads j's payload from ep into a .part tempfile in the
// target directory, then chmod(0644)+atomic-renames it into place.
func (p *Preloader) fetchOne(ctx context.Context, ep origin.Endpoint, j Job, target string) (string, error) {
	u := *ep.URL()
	u.Path = filepath.Join(u.Path, j.Basename)
	url := u.String()

	part := target + ".part"
	fd, err := os.OpenFile(part, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", &transfer.Error{Kind: transfer.ErrInternal, URL: url, Inner: err}
	}
	defer fd.Close()

	e := transfer.New(p.Client, url, nil, []*transfer.Range{{Start: 0, Digest: j.Digest}})
	recv := &fileReceiver{fd: fd}
	if err := e.Run(ctx, recv); err != nil {
		os.Remove(part) //nolint:errcheck // .part is scratch space; removal failures are not actionable here.
		return "", err
	}
	if err := e.VerifyData(); err != nil {
		os.Remove(part) //nolint:errcheck
		return "", err
	}
	if err := fd.Chmod(0644); err != nil {
		os.Remove(part) //nolint:errcheck
		return "", &transfer.Error{Kind: transfer.ErrInternal, URL: url, Inner: err}
	}
	if err := fd.Close(); err != nil {
		os.Remove(part) //nolint:errcheck
		return "", &transfer.Error{Kind: transfer.ErrInternal, URL: url, Inner: err}
	}
	if err := os.Rename(part, target); err != nil {
		return "", &transfer.Error{Kind: transfer.ErrInternal, URL: url, Inner: err}
	}
	return target, nil
}

// fileReceiver is a transfer.Receiver that writes directly to an open
// file at each range's computed offset.
type fileReceiver struct {
	fd interface {
		WriteAt([]byte, int64) (int, error)
	}
	pos int64
}

func (f *fileReceiver) WriteFunc(data []byte, offset *int64) error {
	if offset != nil {
		f.pos = *offset
	}
	n, err := f.fd.WriteAt(data, f.pos)
	f.pos += int64(n)
	return err
}
func (f *fileReceiver) BeginRange(rangeIdx int) (bool, string)          { return true, "" }
func (f *fileReceiver) FinishedRange(rangeIdx int, validated bool) (bool, string) { return true, "" }
