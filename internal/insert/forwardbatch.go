package insert

import (
	"sync"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/store"
)

// ForwardBatch buckets mis-routed series discovered during one local-batch
// test-path pass by destination pool, so the whole pass produces at most one
// ForwardJob per pool instead of one send per series. Scoped to a single
// Dispatcher.applyLocalBatch call; never shared across concurrent jobs,
// since LocalApplier is a single instance shared across concurrent
// InsertJobs.
type ForwardBatch struct {
	mu     sync.Mutex
	byPool map[uint32]*ForwardJob
}

// NewForwardBatch returns an empty batch.
func NewForwardBatch() *ForwardBatch {
	return &ForwardBatch{byPool: make(map[uint32]*ForwardJob)}
}

func (b *ForwardBatch) add(poolID uint32, server cluster.Server, series string, pts []store.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.byPool[poolID]
	if !ok {
		j = &ForwardJob{PoolID: poolID, Target: server}
		b.byPool[poolID] = j
	}
	j.Entries = append(j.Entries, ForwardEntry{Series: series, Points: pts})
}

// Jobs drains and returns every bucketed ForwardJob.
func (b *ForwardBatch) Jobs() []*ForwardJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ForwardJob, 0, len(b.byPool))
	for _, j := range b.byPool {
		out = append(out, j)
	}
	b.byPool = make(map[uint32]*ForwardJob)
	return out
}
