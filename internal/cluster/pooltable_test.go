package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func twoPoolTable() *PoolTable {
	pools := []Pool{
		{ID: 0, Servers: []Server{{Name: "pool0-a", PoolID: 0, IsLocal: true}}},
		{ID: 1, Servers: []Server{{Name: "pool1-a", PoolID: 1}}},
	}
	return New(pools, 0, nil)
}

func TestPoolForSeriesIsStable(t *testing.T) {
	pt := twoPoolTable()
	first := pt.PoolForSeries("cpu.load.node01")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, pt.PoolForSeries("cpu.load.node01"))
	}
}

func TestIsLocalPool(t *testing.T) {
	pt := twoPoolTable()
	require.True(t, pt.IsLocalPool(0))
	require.False(t, pt.IsLocalPool(1))
}

func TestReindexFallsBackToPrevLookup(t *testing.T) {
	pt := twoPoolTable()
	pt.lookup = func(string) uint32 { return 0 }
	require.False(t, pt.Reindexing())

	// Every series used to hash to pool 0; after reindex everything hashes
	// to pool 1, but prevLookup should still report the old assignment.
	pt.BeginReindex(func(string) uint32 { return 1 })
	require.True(t, pt.Reindexing())
	require.EqualValues(t, 1, pt.PoolForSeries("any.series"))
	require.EqualValues(t, 0, pt.PrevPoolForSeries("any.series"))
}

func TestEndReindexDropsPrevLookup(t *testing.T) {
	pt := twoPoolTable()
	pt.BeginReindex(func(string) uint32 { return 1 })
	pt.EndReindex()
	require.False(t, pt.Reindexing())
	require.EqualValues(t, 1, pt.PrevPoolForSeries("any.series"))
}

func TestServerForSeriesUnknownPool(t *testing.T) {
	pt := twoPoolTable()
	_, err := pt.ServerForSeries(99, "x")
	require.Error(t, err)
}

func TestReplicaServerAbsentByDefault(t *testing.T) {
	pt := twoPoolTable()
	_, ok := pt.ReplicaServer(0)
	require.False(t, ok)
}

func TestReplicaServerReturnsSecondEntry(t *testing.T) {
	pools := []Pool{
		{ID: 0, Servers: []Server{
			{Name: "pool0-a", PoolID: 0, IsLocal: true},
			{Name: "pool0-b", PoolID: 0},
		}},
	}
	pt := New(pools, 0, nil)

	replica, ok := pt.ReplicaServer(0)
	require.True(t, ok)
	require.Equal(t, "pool0-b", replica.Name)
}
