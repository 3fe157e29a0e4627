// Package cluster implements the pool table: the mapping from a series name
// to the pool that owns it, including the re-indexing shadow table used
// while the cluster is live-resharding.
//
// Grounded on the original siridb_pool lookup and on the teacher's
// singleton + RWMutex idiom (pkg/metricstore/level.go's findLevelOrCreate
// double-checked locking, pkg/nats/client.go's sync.Once singleton).
package cluster

import (
	"context"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/cespare/xxhash/v2"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tsdbnode/tsdbnode/pkg/nats"
)

// Server is a single cluster member that can be asked to apply or forward
// an insert job.
type Server struct {
	Name    string // unique server identifier, e.g. "pool0-a"
	PoolID  uint32
	IsLocal bool
}

// Pool groups a set of servers (one owner plus optional replicas) that share
// responsibility for a range of series names.
type Pool struct {
	ID      uint32
	Servers []Server
}

// PoolTable maps series names onto pools, and optionally onto a prior
// revision of that mapping while the cluster is re-indexing.
//
// lookup is the current mapping; prevLookup, when non-nil, is the mapping in
// effect before a reshard began. While re-indexing, the insert Router's
// poolForAssignment consults prevLookup (via PrevPoolForSeries) for series
// not stored locally, so that series not yet migrated to their new pool are
// still found at their old location, mirroring siridb_pool's
// INSERT_get_pool in the original C source.
type PoolTable struct {
	mu         sync.RWMutex
	pools      []Pool
	localID    uint32
	lookup     func(series string) uint32
	prevLookup func(series string) uint32 // nil once re-indexing completes

	client *nats.Client
}

// New builds a PoolTable for a cluster with localID identifying this node's
// own pool, hashing series names with xxhash for a stable, well-distributed
// assignment.
func New(pools []Pool, localID uint32, client *nats.Client) *PoolTable {
	t := &PoolTable{
		pools:   pools,
		localID: localID,
		client:  client,
	}
	t.lookup = t.hashLookup
	return t
}

func (t *PoolTable) hashLookup(series string) uint32 {
	n := uint32(len(t.pools))
	if n == 0 {
		return 0
	}
	return uint32(xxhash.Sum64String(series) % uint64(n))
}

// BeginReindex freezes the current lookup as prevLookup and installs a new
// mapping function (e.g. over a larger pool count) as the live lookup. Until
// EndReindex is called, series that have not migrated yet are still found
// via prevLookup.
func (t *PoolTable) BeginReindex(newLookup func(series string) uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.lookup
	t.prevLookup = prev
	t.lookup = newLookup
	cclog.Infof("[CLUSTER] re-indexing started, prev_lookup frozen")
}

// EndReindex drops prevLookup once every series has been confirmed migrated
// to its new pool. After this call PrevPoolForSeries returns the live mapping.
func (t *PoolTable) EndReindex() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prevLookup = nil
	cclog.Infof("[CLUSTER] re-indexing complete, prev_lookup released")
}

// Reindexing reports whether a prevLookup fallback is currently active.
func (t *PoolTable) Reindexing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prevLookup != nil
}

// PoolForSeries returns the pool ID a series currently belongs to under the
// live mapping.
func (t *PoolTable) PoolForSeries(series string) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(series)
}

// PrevPoolForSeries returns the pool ID a series belonged to before the
// current re-index began. It is only meaningful while Reindexing() is true;
// callers must check that first.
func (t *PoolTable) PrevPoolForSeries(series string) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.prevLookup == nil {
		return t.lookup(series)
	}
	return t.prevLookup(series)
}

// IsLocalPool reports whether poolID is this node's own pool.
func (t *PoolTable) IsLocalPool(poolID uint32) bool {
	return poolID == t.localID
}

// LocalID returns this node's own pool ID.
func (t *PoolTable) LocalID() uint32 { return t.localID }

// ServerForSeries returns the representative server responsible for a
// series in the given pool — the direct analogue of siridb's
// server_for_series, used to pick a single recipient for a forwarded job.
func (t *PoolTable) ServerForSeries(poolID uint32, series string) (Server, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.pools {
		if p.ID != poolID {
			continue
		}
		if len(p.Servers) == 0 {
			return Server{}, fmt.Errorf("cluster: pool %d has no servers", poolID)
		}
		// A pool's owner is always servers[0]; replicas follow. This returns
		// that pool's representative server unconditionally — the "no
		// replica, or server equals own server" forwarding decision is made
		// by the caller (LocalApplier.ownsForwardDuty), not here.
		return p.Servers[0], nil
	}
	return Server{}, fmt.Errorf("cluster: no such pool %d", poolID)
}

// Send issues an insert request to the given pool over NATS and blocks for
// a reply or ctx cancellation, mirroring pkg/nats/client.go's Request
// wrapping nats.Conn.RequestWithContext.
func (t *PoolTable) Send(ctx context.Context, poolID uint32, payload []byte) ([]byte, error) {
	subject := fmt.Sprintf("pool.%d.insert", poolID)
	reply, err := t.client.Request(subject, payload, ctx)
	if err != nil {
		if err == context.DeadlineExceeded || err == natsgo.ErrTimeout {
			return nil, fmt.Errorf("cluster: request to pool %d timed out: %w", poolID, err)
		}
		return nil, fmt.Errorf("cluster: request to pool %d failed: %w", poolID, err)
	}
	return reply, nil
}

// SendToServer forwards a job to a single named server's subject, used for
// the re-indexing test-path forward (INSERT_TEST_POOL in the original).
func (t *PoolTable) SendToServer(ctx context.Context, server Server, payload []byte) ([]byte, error) {
	subject := fmt.Sprintf("server.%s.insert", server.Name)
	reply, err := t.client.Request(subject, payload, ctx)
	if err != nil {
		return nil, fmt.Errorf("cluster: request to server %s failed: %w", server.Name, err)
	}
	return reply, nil
}

// ReplicaServer returns the replica server configured for poolID, if any.
// A pool's first server is always its owner; a second entry, when present,
// is the replica consulted by the Dispatcher and Replicator.
func (t *PoolTable) ReplicaServer(poolID uint32) (Server, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.pools {
		if p.ID != poolID {
			continue
		}
		if len(p.Servers) < 2 {
			return Server{}, false
		}
		return p.Servers[1], true
	}
	return Server{}, false
}

// OwnServer returns this node's own entry within its local pool — the Server
// whose IsLocal flag is set — used to decide whether this server itself is
// responsible for forwarding a mis-routed series during re-indexing.
func (t *PoolTable) OwnServer() (Server, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.pools {
		if p.ID != t.localID {
			continue
		}
		for _, s := range p.Servers {
			if s.IsLocal {
				return s, true
			}
		}
	}
	return Server{}, false
}

// Pools returns a snapshot of the configured pools.
func (t *PoolTable) Pools() []Pool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Pool, len(t.pools))
	copy(out, t.pools)
	return out
}
