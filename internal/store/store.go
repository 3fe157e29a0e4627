// This file implements the series registry: the map from series name to its
// shard chain, guarded by the two-lock discipline required by the
// concurrency model (seriesMu before each entry's own shardsMu, never the
// reverse).
//
// Grounded on pkg/metricstore/level.go's findLevelOrCreate double-checked
// locking for lazy creation under a RWMutex.
package store

import (
	"errors"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// ErrUnsupportedValue indicates a point's value type does not match the type
// a series was created with. A series' value type is fixed for its lifetime
// by whichever kind its first point carried; every later point must match
// it, the direct analogue of the original's UNSUPPORTED_VALUE parse error,
// except this check can only be made once the series is known, so it lives
// here rather than in the Router's parse-time taxonomy.
var ErrUnsupportedValue = errors.New("store: value type does not match the series' established type")

// entry is one series' registry record: its own shard chain behind its own
// mutex, so that one series being written to never blocks another.
type entry struct {
	shardsMu sync.Mutex
	kind     PointKind
	typed    bool // false until the first point fixes kind
	head     *shard
}

// SeriesStore is the local, in-memory point store for this node's pool.
// Lock order is always seriesMu (outer) then an entry's shardsMu (inner);
// never acquire them in the opposite order.
type SeriesStore struct {
	seriesMu sync.RWMutex
	series   map[string]*entry

	latch *FatalLatch
	Range RangePolicy
}

// New creates an empty SeriesStore. latch is threaded in explicitly rather
// than kept as a package global, per the design note in DESIGN.md. policy
// configures the timestamp-range check ValidTS enforces; the zero value
// accepts any timestamp.
func New(latch *FatalLatch, policy RangePolicy) *SeriesStore {
	return &SeriesStore{
		series: make(map[string]*entry),
		latch:  latch,
		Range:  policy,
	}
}

// Get reports whether series already exists locally, without creating it.
func (s *SeriesStore) Get(series string) (found bool) {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	_, found = s.series[series]
	return found
}

// getOrReserve returns the existing entry for series, or atomically creates
// and reserves a new one. created reports whether this call created it.
//
// Double-checked locking: an RLock covers the common case (series already
// exists); only first-write-ever takes the write lock, matching
// findLevelOrCreate's pattern.
func (s *SeriesStore) getOrReserve(series string) (e *entry, created bool) {
	s.seriesMu.RLock()
	if e, ok := s.series[series]; ok {
		s.seriesMu.RUnlock()
		return e, false
	}
	s.seriesMu.RUnlock()

	s.seriesMu.Lock()
	defer s.seriesMu.Unlock()
	if e, ok := s.series[series]; ok {
		return e, false
	}
	e = &entry{}
	s.series[series] = e
	return e, true
}

// Create reserves series without writing a point, for the re-indexing
// test path once a series unknown locally has been found to belong to this
// node's own pool.
func (s *SeriesStore) Create(series string) {
	s.getOrReserve(series)
}

// AddPoint appends p to series' shard chain, creating the series if it does
// not exist yet. It enforces that timestamps strictly increase per series,
// returning ErrOutOfOrder otherwise.
func (s *SeriesStore) AddPoint(series string, p Point) error {
	e, _ := s.getOrReserve(series)

	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()

	if !e.typed {
		e.kind = p.Kind
		e.typed = true
	} else if e.kind != p.Kind {
		return ErrUnsupportedValue
	}

	if e.head == nil {
		e.head = newShard()
	}
	head, err := e.head.append(p)
	if err != nil {
		if s.latch != nil && isCorruption(err) {
			s.latch.Trip(err)
		}
		return err
	}
	e.head = head
	return nil
}

// ValidTS reports whether ts falls within the database's configured
// timestamp range (§6.4/§3), independent of any series' existing data.
// Per-series ordering is a separate concern enforced by AddPoint/append
// (ErrOutOfOrder), not by this check.
func (s *SeriesStore) ValidTS(ts int64) bool {
	return s.Range.Valid(ts)
}

// Count returns the number of points retained for series, or 0 if unknown.
func (s *SeriesStore) Count(series string) int64 {
	s.seriesMu.RLock()
	e, ok := s.series[series]
	s.seriesMu.RUnlock()
	if !ok {
		return 0
	}
	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()
	return e.head.count()
}

// Collect returns every point for series with ts in [from, to), for tests
// and diagnostics.
func (s *SeriesStore) Collect(series string, from, to int64) []Point {
	s.seriesMu.RLock()
	e, ok := s.series[series]
	s.seriesMu.RUnlock()
	if !ok {
		return nil
	}
	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()
	return e.head.collect(from, to)
}

// SeriesCount returns the number of distinct series currently registered.
func (s *SeriesStore) SeriesCount() int {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	return len(s.series)
}

// Retain drops shards across every series whose newest point is older than
// threshold. Called periodically by the gocron retention job.
func (s *SeriesStore) Retain(threshold int64) {
	s.seriesMu.RLock()
	entries := make([]*entry, 0, len(s.series))
	for _, e := range s.series {
		entries = append(entries, e)
	}
	s.seriesMu.RUnlock()

	var freed int
	for _, e := range entries {
		e.shardsMu.Lock()
		if e.head != nil {
			delme, n := e.head.free(threshold)
			freed += n
			if delme {
				releaseShard(e.head)
				e.head = nil
			}
		}
		e.shardsMu.Unlock()
	}
	if freed > 0 {
		cclog.Infof("[STORE] retention freed %d shards older than %d", freed, threshold)
	}
}

func isCorruption(err error) bool {
	// Out-of-order writes are a routine, recoverable protocol error (the
	// client gets ErrOutOfOrder back); they are never fatal-latch material.
	return false
}
