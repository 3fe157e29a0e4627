package insert

import (
	"context"
	"errors"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/store"
)

var (
	// ErrReplicaGone indicates the replica expected by the re-indexing
	// test path is no longer reachable in the pool table.
	ErrReplicaGone = errors.New("insert: replica no longer present")

	// ErrDropped indicates a mis-routed point was neither applied locally
	// nor forwarded, because the pool table has no server for its
	// destination pool. The silent drop taken when a sibling replica owns the
	// forward returns no error.
	ErrDropped = errors.New("insert: point dropped, no responsible server reachable")
)

// LocalApplier applies points to this node's own SeriesStore, taking the
// fast path when a series is already known locally, and falling back to the
// re-indexing test path (siridb_insert's INSERT_local_test) when it is not.
type LocalApplier struct {
	Store   *store.SeriesStore
	Pool    *cluster.PoolTable
	Metrics *store.Metrics
}

// Apply applies every point in a single series' batch, returning the number
// of points actually applied locally (points forwarded or dropped are not
// counted). Points that
// belong to another pool are bucketed into forwards rather than sent
// immediately; the caller flushes forwards once per batch via FlushForwards.
func (a *LocalApplier) Apply(ctx context.Context, series string, pts []store.Point, forwards *ForwardBatch) (applied int, err error) {
	if a.Store.Get(series) {
		return a.fastPath(series, pts)
	}
	return a.testPath(ctx, series, pts, forwards)
}

// fastPath appends directly; the series is already known to belong here.
func (a *LocalApplier) fastPath(series string, pts []store.Point) (int, error) {
	n := 0
	for _, p := range pts {
		if err := a.Store.AddPoint(series, p); err != nil {
			if errors.Is(err, store.ErrOutOfOrder) {
				cclog.Warnf("[INSERT] out-of-order point dropped for %s", series)
				continue
			}
			return n, err
		}
		n++
	}
	if a.Metrics != nil {
		a.Metrics.ReceivedPoints.WithLabelValues(poolLabel(a.Pool.LocalID())).Add(float64(n))
	}
	return n, nil
}

// testPath implements INSERT_local_test: a series unknown to this node is
// looked up against the live pool table. If it now belongs to this pool,
// the series is created and the fast path taken. Otherwise, ownsForwardDuty
// decides whether this server is the one responsible for forwarding it — if
// so, the points are bucketed into forwards for the destination pool;
// otherwise they are silently dropped, since some other replica of this
// pool is already forwarding them, matching the original's silent-skip
// behavior for stale re-indexing traffic.
func (a *LocalApplier) testPath(ctx context.Context, series string, pts []store.Point, forwards *ForwardBatch) (int, error) {
	poolID := a.Pool.PoolForSeries(series)

	if a.Pool.IsLocalPool(poolID) {
		a.Store.Create(series)
		return a.fastPath(series, pts)
	}

	if !a.ownsForwardDuty(series) {
		return 0, nil
	}

	server, err := a.Pool.ServerForSeries(poolID, series)
	if err != nil {
		cclog.Warnf("[INSERT] %s: %v, dropping %d points", series, err, len(pts))
		return 0, ErrDropped
	}

	forwards.add(poolID, server, series, pts)
	return 0, nil
}

// ownsForwardDuty reports whether this server is the one responsible for
// forwarding a mis-routed series: true when our own pool has no replica, or
// when we are the server_for_series within our own pool for this series —
// preventing every replica of the local pool from forwarding the same
// series.
func (a *LocalApplier) ownsForwardDuty(series string) bool {
	if _, hasReplica := a.Pool.ReplicaServer(a.Pool.LocalID()); !hasReplica {
		return true
	}
	responsible, err := a.Pool.ServerForSeries(a.Pool.LocalID(), series)
	if err != nil {
		return true
	}
	own, ok := a.Pool.OwnServer()
	return !ok || responsible.Name == own.Name
}

// FlushForwards dispatches every bucketed forward job asynchronously, one
// SendToServer request per job to its target server, once a local-batch
// test-path pass has finished accumulating them.
func (a *LocalApplier) FlushForwards(ctx context.Context, forwards *ForwardBatch) {
	for _, j := range forwards.Jobs() {
		j := j
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			payload := encodeForwardJob(j)
			if _, err := a.Pool.SendToServer(sendCtx, j.Target, payload); err != nil {
				cclog.Warnf("[INSERT] forwarding %d series to %s failed: %v", len(j.Entries), j.Target.Name, err)
				return
			}
			if a.Metrics != nil {
				a.Metrics.ForwardJobs.WithLabelValues(j.Target.Name).Inc()
			}
		}()
	}
}

func poolLabel(id uint32) string {
	return "pool-" + itoa(id)
}

func itoa(id uint32) string {
	if id == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}
