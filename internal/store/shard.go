// Package store implements the in-memory series registry and point
// storage for this node's own pool.
//
// Grounded on pkg/metricstore/buffer.go's chain-of-capped-buffers design:
// points accumulate into a head shard until it reaches ShardCap, at which
// point a new shard becomes the head and the old one is linked via prev.
// Unlike the teacher's fixed-frequency float buffer, a shard here holds a
// sparse, heterogeneous (integer, floating point or raw bytes) tagged-union Point,
// because insert payloads do not arrive on a fixed sampling grid.
package store

import (
	"errors"
	"sync"
)

// ShardCap bounds how many points a single shard holds before a new shard
// becomes the chain's head. Keeping it fixed lets shards be pooled the same
// way the teacher pools its float buffers.
const ShardCap = 1024

var shardPool = sync.Pool{
	New: func() any {
		return &shard{points: make([]Point, 0, ShardCap)}
	},
}

// PointKind distinguishes the three value representations a series can carry.
type PointKind int

const (
	KindInt64 PointKind = iota
	KindDouble
	KindRaw
)

// Point is a single timestamped sample.
type Point struct {
	TS       int64
	Kind     PointKind
	IntVal   int64
	FloatVal float64
	RawVal   []byte
}

var (
	// ErrOutOfOrder indicates a point's timestamp does not move the series
	// forward in time. The database-wide range check is separate
	// (SeriesStore.ValidTS).
	ErrOutOfOrder = errors.New("store: point timestamp is not after the series' last point")
)

// shard holds a capped, time-ordered run of points for one series. Shards
// chain backwards via prev, oldest at the tail, mirroring buffer.go.
type shard struct {
	prev   *shard
	points []Point
	closed bool
}

func newShard() *shard {
	s := shardPool.Get().(*shard)
	s.prev = nil
	s.closed = false
	s.points = s.points[:0]
	return s
}

func releaseShard(s *shard) {
	s.prev = nil
	s.points = s.points[:0]
	shardPool.Put(s)
}

// append adds ts/value to the chain headed by s, returning the (possibly
// new) head. It rejects timestamps at or before the last written point.
func (s *shard) append(p Point) (*shard, error) {
	if len(s.points) > 0 && p.TS <= s.points[len(s.points)-1].TS {
		return s, ErrOutOfOrder
	}
	if len(s.points) >= ShardCap {
		next := newShard()
		next.prev = s
		next.points = append(next.points, p)
		return next, nil
	}
	s.points = append(s.points, p)
	return s, nil
}

// lastTS returns the most recent timestamp written to the chain, or false
// if the chain is empty.
func (s *shard) lastTS() (int64, bool) {
	if s == nil {
		return 0, false
	}
	if len(s.points) > 0 {
		return s.points[len(s.points)-1].TS, true
	}
	return s.prev.lastTS()
}

// free drops shards whose every point is older than threshold, returning
// how many shards were released back to the pool.
func (s *shard) free(threshold int64) (delme bool, n int) {
	if s == nil {
		return false, 0
	}
	if s.prev != nil {
		delme, m := s.prev.free(threshold)
		n += m
		if delme {
			releaseShard(s.prev)
			s.prev = nil
		}
	}
	if len(s.points) == 0 {
		return false, n
	}
	newest := s.points[len(s.points)-1].TS
	if newest < threshold {
		return true, n + 1
	}
	return false, n
}

// count returns the total number of points retained across the chain.
func (s *shard) count() int64 {
	var total int64
	for cur := s; cur != nil; cur = cur.prev {
		total += int64(len(cur.points))
	}
	return total
}

// collect gathers every point with ts in [from, to) across the chain, in
// chronological order. Intended for tests and diagnostics, not the hot
// insert path.
func (s *shard) collect(from, to int64) []Point {
	var chain []*shard
	for cur := s; cur != nil; cur = cur.prev {
		chain = append(chain, cur)
	}
	var out []Point
	for i := len(chain) - 1; i >= 0; i-- {
		for _, p := range chain[i].points {
			if p.TS >= from && p.TS < to {
				out = append(out, p)
			}
		}
	}
	return out
}
