package preload

import (
	"sync"

	"github.com/quay/provisioncore/origin"
)

// mirrorStat tracks in-flight reference count and accumulated failure
// count for one mirror endpoint, the inputs to spec §4.7's
// lowest-(refs+miss) selection with first-in-list tie-break.
type mirrorStat struct {
	ep     origin.Endpoint
	refs   int
	miss   int
	tainted bool
}

// mirrorPool hands out single-connection, mirror-pinned assignments for
// one repository's endpoint set, implementing spec §4.7's worker-mirror
// pinning and per-mirror tainting.
type mirrorPool struct {
	mu    sync.Mutex
	stats []*mirrorStat
}

func newMirrorPool(o *origin.MirroredOrigin) *mirrorPool {
	all := o.All()
	stats := make([]*mirrorStat, len(all))
	for i, ep := range all {
		stats[i] = &mirrorStat{ep: ep}
	}
	return &mirrorPool{stats: stats}
}

// Acquire picks the best untainted mirror (lowest refs+miss, first in list
// on ties), falling back to tainted mirrors only once every mirror has
// been tried. It increments the chosen mirror's refcount.
func (p *mirrorPool) Acquire() (origin.Endpoint, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.pick(false)
	if idx < 0 {
		idx = p.pick(true)
	}
	if idx < 0 {
		return origin.Endpoint{}, -1, false
	}
	p.stats[idx].refs++
	return p.stats[idx].ep, idx, true
}

func (p *mirrorPool) pick(allowTainted bool) int {
	best := -1
	for i, s := range p.stats {
		if s.tainted && !allowTainted {
			continue
		}
		if best < 0 || (s.refs+s.miss) < (p.stats[best].refs+p.stats[best].miss) {
			best = i
		}
	}
	return best
}

// Release drops the refcount acquired by Acquire.
func (p *mirrorPool) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx >= 0 && idx < len(p.stats) {
		p.stats[idx].refs--
	}
}

// Taint marks the mirror at idx as having produced a fatal transport or
// protocol error, and bumps its miss count so it sorts worse even once
// untainted mirrors run out.
func (p *mirrorPool) Taint(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx >= 0 && idx < len(p.stats) {
		p.stats[idx].tainted = true
		p.stats[idx].miss++
	}
}

// AllTainted reports whether every mirror in the pool is tainted.
func (p *mirrorPool) AllTainted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stats {
		if !s.tainted {
			return false
		}
	}
	return len(p.stats) > 0
}
