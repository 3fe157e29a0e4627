package insert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/store"
)

func singlePoolTable(localID uint32) *cluster.PoolTable {
	pools := []cluster.Pool{
		{ID: 0, Servers: []cluster.Server{{Name: "node-a", PoolID: 0, IsLocal: true}}},
	}
	return cluster.New(pools, localID, nil)
}

func TestLocalApplierFastPath(t *testing.T) {
	ss := store.New(nil, store.RangePolicy{})
	pt := singlePoolTable(0)
	applier := &LocalApplier{Store: ss, Pool: pt}

	ss.Create("cpu.load")
	n, err := applier.Apply(context.Background(), "cpu.load", []store.Point{{TS: 1}, {TS: 2}}, NewForwardBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestLocalApplierTestPathOwnPoolCreates(t *testing.T) {
	ss := store.New(nil, store.RangePolicy{})
	pt := singlePoolTable(0) // only one pool, always local
	applier := &LocalApplier{Store: ss, Pool: pt}

	n, err := applier.Apply(context.Background(), "new.series", []store.Point{{TS: 1}}, NewForwardBatch())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, ss.Get("new.series"))
}

func TestLocalApplierFastPathSkipsOutOfOrder(t *testing.T) {
	ss := store.New(nil, store.RangePolicy{})
	pt := singlePoolTable(0)
	applier := &LocalApplier{Store: ss, Pool: pt}

	ss.Create("series.a")
	n, err := applier.Apply(context.Background(), "series.a", []store.Point{{TS: 5}, {TS: 5}, {TS: 6}}, NewForwardBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

// twoPoolWithReplica builds two pools: pool 0 (local) has two servers,
// "pool0-a" and "pool0-b", one of which is flagged IsLocal depending on
// ownerIsLocal; pool 1 has a single server "pool1-a". Reindexing is forced
// so every series resolves away from pool 0, exercising testPath's forward
// decision.
func twoPoolWithReplica(ownerIsLocal bool) *cluster.PoolTable {
	pools := []cluster.Pool{
		{ID: 0, Servers: []cluster.Server{
			{Name: "pool0-a", PoolID: 0, IsLocal: ownerIsLocal},
			{Name: "pool0-b", PoolID: 0, IsLocal: !ownerIsLocal},
		}},
		{ID: 1, Servers: []cluster.Server{{Name: "pool1-a", PoolID: 1}}},
	}
	pt := cluster.New(pools, 0, nil)
	pt.BeginReindex(func(string) uint32 { return 1 })
	return pt
}

func TestLocalApplierTestPathForwardsWhenOwnerResponsible(t *testing.T) {
	ss := store.New(nil, store.RangePolicy{})
	pt := twoPoolWithReplica(true) // this server is pool0-a, the owner
	applier := &LocalApplier{Store: ss, Pool: pt}

	forwards := NewForwardBatch()
	n, err := applier.Apply(context.Background(), "mis.routed", []store.Point{{TS: 1}}, forwards)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	jobs := forwards.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, uint32(1), jobs[0].PoolID)
	require.Equal(t, "pool1-a", jobs[0].Target.Name)
	require.Len(t, jobs[0].Entries, 1)
	require.Equal(t, "mis.routed", jobs[0].Entries[0].Series)
}

func TestLocalApplierTestPathDropsWhenReplicaResponsible(t *testing.T) {
	ss := store.New(nil, store.RangePolicy{})
	pt := twoPoolWithReplica(false) // this server is pool0-b, the replica
	applier := &LocalApplier{Store: ss, Pool: pt}

	forwards := NewForwardBatch()
	n, err := applier.Apply(context.Background(), "mis.routed", []store.Point{{TS: 1}}, forwards)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, forwards.Jobs())
}
