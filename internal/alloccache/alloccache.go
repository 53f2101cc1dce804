// Package alloccache implements strategy (B) of allocation correlation
// (spec section 4.4): pairing an AllocEnter's fingerprint with the address
// a later AllocExit returns, per thread.
package alloccache

import (
	"sort"
	"sync"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
	"github.com/tracecore/tracecore/pkg/alg/lru"
	"github.com/tracecore/tracecore/pkg/mathutil"
)

// defaultKnownCapacity bounds the number of distinct allocation
// fingerprints held in known at once. A long-running target with many
// distinct (kind, thread, size) combinations would otherwise grow known
// without bound; eviction here only drops the least-recently-touched
// fingerprint, which at worst reintroduces an unresolved AllocExit as a
// dropped correlation rather than corrupting anything already resolved.
const defaultKnownCapacity = 1 << 16

// pending is an AllocEnter waiting for its AllocExit, keyed by thread.
type pending struct {
	tsc  uint64
	kind record.AllocKind
	size uint64
	num  uint64
	old  uint64
}

// resolved is one (tsc, returned address) pair accumulated under a
// fingerprint, the ordered_map entry of spec section 4.4.
type resolved struct {
	tsc  uint64
	addr uint64
}

// Cache correlates AllocEnter and AllocExit records by (fingerprint,
// thread), maintaining the in_progress and known structures spec section
// 4.4 describes. It is safe for concurrent use by the per-thread
// consumers that share it (invariant 5 treats allocation correlation as
// process-wide state, mirroring the shared reference map).
type Cache struct {
	mu         sync.Mutex
	inProgress map[model.ThreadID]pending
	known      *lru.Cache[record.Fingerprint, []resolved]
}

// New constructs an empty Cache, its known map capped at
// defaultKnownCapacity distinct fingerprints.
func New() *Cache {
	return &Cache{
		inProgress: make(map[model.ThreadID]pending),
		known: lru.New[record.Fingerprint, []resolved](
			lru.WithMaxEntries[record.Fingerprint, []resolved](defaultKnownCapacity),
		),
	}
}

// EnterAlloc records an AllocEnter as in-flight for its thread. A second
// AllocEnter on the same thread before a matching AllocExit overwrites the
// first; the front end never interleaves allocator calls on one thread.
func (c *Cache) EnterAlloc(rec record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inProgress[rec.ThreadID] = pending{
		tsc:  rec.TSC,
		kind: rec.AllocOp,
		size: rec.Size,
		num:  rec.Num,
		old:  rec.OldRef,
	}
}

// ExitAlloc moves the thread's in-progress AllocEnter into known, indexed
// by its fingerprint, pairing it with the address the AllocExit returned.
// It reports false if no AllocEnter was pending on the thread.
func (c *Cache) ExitAlloc(rec record.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.inProgress[rec.ThreadID]
	if !ok {
		return false
	}

	delete(c.inProgress, rec.ThreadID)

	fp := record.Fingerprint{
		Kind:     p.kind,
		ThreadID: rec.ThreadID,
		Size:     p.size,
		Num:      p.num,
		OldRef:   p.old,
	}

	entries, _ := c.known.Get(fp)
	entries = append(entries, resolved{tsc: p.tsc, addr: rec.ReturnedRef})
	c.known.Put(fp, entries)

	return true
}

// Take pops from known[fingerprint] the entry whose tsc is closest to
// enterTSC and returns its returned address, per the "closest to the
// AllocEnter tsc" pairing rule. It reports false when no resolved entry
// exists for the fingerprint.
func (c *Cache) Take(fp record.Fingerprint, enterTSC uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.known.Get(fp)
	if !ok || len(entries) == 0 {
		return 0, false
	}

	best := 0
	bestDelta := absDelta(entries[0].tsc, enterTSC)

	for i := 1; i < len(entries); i++ {
		d := absDelta(entries[i].tsc, enterTSC)
		if mathutil.Min(int(d), int(bestDelta)) == int(d) && d < bestDelta {
			best, bestDelta = i, d
		}
	}

	addr := entries[best].addr
	c.known.Put(fp, append(entries[:best], entries[best+1:]...))

	return addr, true
}

// Fingerprint builds the correlation key for a just-seen AllocEnter.
func Fingerprint(rec record.Record) record.Fingerprint {
	return record.Fingerprint{
		Kind:     rec.AllocOp,
		ThreadID: rec.ThreadID,
		Size:     rec.Size,
		Num:      rec.Num,
		OldRef:   rec.OldRef,
	}
}

// PendingTSCs returns the tsc of every fingerprint currently resolvable
// for fp, sorted ascending; used by tests and diagnostics to inspect
// ordering without mutating the cache.
func (c *Cache) PendingTSCs(fp record.Fingerprint) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, _ := c.known.Get(fp)

	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.tsc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

func absDelta(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}

	return b - a
}
