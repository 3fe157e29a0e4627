package insert

import (
	"context"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/store"
)

// Dispatcher fans an InsertJob's per-pool batches out to the cluster: the
// node's own pool is applied locally, every other pool is sent over the
// cluster transport and its ack awaited. This is the Go analogue of
// INSERT_points_to_pools plus INSERT_on_response's ack aggregation, built
// as an errgroup.Group (PromiseSet) instead of hand-rolled promise
// bookkeeping.
type Dispatcher struct {
	Pool       *cluster.PoolTable
	Applier    *LocalApplier
	Metrics    *store.Metrics
	Replicator *Replicator // nil when the local pool has no replica configured

	ratePerSec float64
	burst      int

	limitersMu sync.Mutex
	limiters   map[uint32]*rate.Limiter
}

// NewDispatcher builds a Dispatcher rate-limiting outbound pool sends to
// ratePerSec per pool, bursting up to burst, so that a burst of client
// requests cannot saturate a lagging pool's representative server — an
// ambient concern the original's fire-and-forget fan-out left to the OS
// socket buffers.
func NewDispatcher(pt *cluster.PoolTable, applier *LocalApplier, metrics *store.Metrics, ratePerSec float64, burst int) *Dispatcher {
	return &Dispatcher{
		Pool:       pt,
		Applier:    applier,
		Metrics:    metrics,
		ratePerSec: ratePerSec,
		burst:      burst,
		limiters:   make(map[uint32]*rate.Limiter),
	}
}

func (d *Dispatcher) limiterFor(poolID uint32) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	l, ok := d.limiters[poolID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.ratePerSec), d.burst)
		d.limiters[poolID] = l
	}
	return l
}

// Dispatch sends job's batches to their destination pools, waits for all
// acks, and leaves the job in StateReplying with ReceivedPoints/Errors
// populated for the reply stage to consume.
func (d *Dispatcher) Dispatch(ctx context.Context, job *InsertJob) {
	job.Advance(StateDispatched)

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range job.Batches {
		batch := batch
		g.Go(func() error {
			if d.Pool.IsLocalPool(batch.PoolID) {
				return d.applyLocalBatch(gctx, job, batch)
			}
			return d.sendRemoteBatch(gctx, job, batch)
		})
	}

	job.Advance(StateAwaitingAcks)
	if err := g.Wait(); err != nil {
		cclog.Warnf("[INSERT] dispatch completed with at least one error: %v", err)
	}
	job.Advance(StateReplying)
}

func (d *Dispatcher) applyLocalBatch(ctx context.Context, job *InsertJob, batch PoolBatch) error {
	// The local batch was pre-encoded by Router just like remote ones; the
	// applier only needs the parsed points, which the caller retains on
	// job.RawPoints. Those are selected here with the same per-series pool
	// choice AssignPools made (poolForAssignment). When a replica is configured
	// for this pool, every point is also replicated to it; the replicator's
	// filter verdict gates both the replica publish and the local apply in
	// the same pass — during initial sync a series already shipped to the
	// replica as a snapshot is skipped here entirely, so the same packet (as
	// bytes) is what gets locally applied.
	forwards := NewForwardBatch()
	var firstErr error
	for _, p := range job.RawPoints {
		if poolForAssignment(d.Pool, d.Applier.Store, p.Series) != batch.PoolID {
			continue
		}

		if d.Replicator != nil {
			filter := d.Replicator.Filter
			if filter == nil {
				filter = AllowAll
			}
			if !filter(p.Series) {
				continue
			}
			if err := d.Replicator.Replicate(p.Series, []store.Point{p.Point}); err != nil {
				cclog.Warnf("[INSERT] replication of %s to %s failed: %v", p.Series, d.Replicator.ReplicaName, err)
			}
		}

		n, err := d.Applier.Apply(ctx, p.Series, []store.Point{p.Point}, forwards)
		job.RecordAck(n, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.Applier.FlushForwards(ctx, forwards)
	return firstErr
}

func (d *Dispatcher) sendRemoteBatch(ctx context.Context, job *InsertJob, batch PoolBatch) error {
	limiter := d.limiterFor(batch.PoolID)
	if err := limiter.Wait(ctx); err != nil {
		job.RecordAck(0, err)
		return err
	}

	_, err := d.Pool.Send(ctx, batch.PoolID, batch.Payload)
	job.RecordAck(batch.NPoints, err)
	if err != nil && d.Metrics != nil {
		d.Metrics.InsertErrors.WithLabelValues("pool_unreachable").Inc()
	}
	return err
}
