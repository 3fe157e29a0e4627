package insert

import (
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/tsdbnode/tsdbnode/internal/store"
	"github.com/tsdbnode/tsdbnode/pkg/nats"
)

// SyncFilter decides whether a series should be included in a replication
// publish. During an initial sync, a replica that has not yet caught up on
// older data filters out series it has already received in full, so the
// catch-up stream does not re-send data the replica already has — the Go
// analogue of the original's initial-sync filter rewriting.
type SyncFilter func(series string) bool

// AllowAll is the default SyncFilter once initial sync has completed: every
// series is replicated.
func AllowAll(string) bool { return true }

// Replicator publishes a pool's locally-applied points to its replica over
// NATS publish (fire-and-forget, no ack awaited — replication is
// best-effort and does not gate the client's insert response).
type Replicator struct {
	Client      *nats.Client
	PoolID      uint32
	ReplicaName string
	Filter      SyncFilter
}

// NewReplicator builds a Replicator with no sync filtering (AllowAll).
func NewReplicator(client *nats.Client, poolID uint32, replicaName string) *Replicator {
	return &Replicator{Client: client, PoolID: poolID, ReplicaName: replicaName, Filter: AllowAll}
}

// Replicate publishes pts for series to this pool's replica subject, unless
// the current SyncFilter excludes the series (initial-sync catch-up).
func (r *Replicator) Replicate(series string, pts []store.Point) error {
	filter := r.Filter
	if filter == nil {
		filter = AllowAll
	}
	if !filter(series) {
		return nil
	}

	payload := encodeForward(series, pts)
	subject := fmt.Sprintf("replica.%s.pool.%d", r.ReplicaName, r.PoolID)
	if err := r.Client.Publish(subject, payload); err != nil {
		cclog.Warnf("[CLUSTER] replication publish to %s failed: %v", r.ReplicaName, err)
		return err
	}
	return nil
}

// BeginInitialSync installs a filter that skips any series already present
// in synced, so a freshly (re)joined replica's catch-up stream does not
// duplicate data it already holds from a snapshot transfer.
func (r *Replicator) BeginInitialSync(synced map[string]bool) {
	r.Filter = func(series string) bool {
		return !synced[series]
	}
}

// EndInitialSync restores normal, unfiltered replication.
func (r *Replicator) EndInitialSync() {
	r.Filter = AllowAll
}
