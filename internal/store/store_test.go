package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddPointAndCollect(t *testing.T) {
	s := New(nil, RangePolicy{})
	require.NoError(t, s.AddPoint("cpu.load", Point{TS: 1, Kind: KindDouble, FloatVal: 1.5}))
	require.NoError(t, s.AddPoint("cpu.load", Point{TS: 2, Kind: KindDouble, FloatVal: 2.5}))

	pts := s.Collect("cpu.load", 0, 10)
	require.Len(t, pts, 2)
	require.Equal(t, int64(1), pts[0].TS)
	require.Equal(t, int64(2), pts[1].TS)
}

func TestAddPointRejectsOutOfOrder(t *testing.T) {
	s := New(nil, RangePolicy{})
	require.NoError(t, s.AddPoint("cpu.load", Point{TS: 5}))
	err := s.AddPoint("cpu.load", Point{TS: 5})
	require.ErrorIs(t, err, ErrOutOfOrder)

	err = s.AddPoint("cpu.load", Point{TS: 4})
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestGetOrReserveCreatesOnce(t *testing.T) {
	s := New(nil, RangePolicy{})
	require.False(t, s.Get("unknown"))
	s.Create("known")
	require.True(t, s.Get("known"))
	require.EqualValues(t, 1, s.SeriesCount())
}

func TestValidTSUnlimitedRangeAcceptsEverything(t *testing.T) {
	s := New(nil, RangePolicy{})
	require.True(t, s.ValidTS(0))
	require.True(t, s.ValidTS(1<<40))
}

func TestValidTSRejectsOutsideConfiguredWindow(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	s := New(nil, RangePolicy{
		Precision: PrecisionSeconds,
		Duration:  100 * time.Second,
		Clock:     func() time.Time { return now },
	})

	require.True(t, s.ValidTS(now.Unix()))
	require.True(t, s.ValidTS(now.Unix()-100))
	require.False(t, s.ValidTS(now.Unix()-101))
	require.False(t, s.ValidTS(now.Unix()+1))
}

func TestShardChainRollsOverAtCap(t *testing.T) {
	s := New(nil, RangePolicy{})
	for i := 0; i < ShardCap+10; i++ {
		require.NoError(t, s.AddPoint("dense.series", Point{TS: int64(i + 1)}))
	}
	require.EqualValues(t, ShardCap+10, s.Count("dense.series"))
}

func TestRetainDropsOldShards(t *testing.T) {
	s := New(nil, RangePolicy{})
	for i := 0; i < ShardCap+5; i++ {
		require.NoError(t, s.AddPoint("series.a", Point{TS: int64(i + 1)}))
	}
	// Everything up to ShardCap is in the oldest (now-full) shard; dropping
	// anything older than ShardCap+1 should free exactly that shard.
	s.Retain(int64(ShardCap + 1))
	require.EqualValues(t, 5, s.Count("series.a"))
}

func TestAddPointRejectsTypeChangeAfterFirstValue(t *testing.T) {
	s := New(nil, RangePolicy{})
	require.NoError(t, s.AddPoint("typed.series", Point{TS: 1, Kind: KindDouble, FloatVal: 1.5}))

	err := s.AddPoint("typed.series", Point{TS: 2, Kind: KindInt64, IntVal: 7})
	require.ErrorIs(t, err, ErrUnsupportedValue)

	// The rejected point must not have been appended.
	require.EqualValues(t, 1, s.Count("typed.series"))
}

func TestAddPointAllowsRawValueType(t *testing.T) {
	s := New(nil, RangePolicy{})
	require.NoError(t, s.AddPoint("tag.series", Point{TS: 1, Kind: KindRaw, RawVal: []byte("on")}))
	require.NoError(t, s.AddPoint("tag.series", Point{TS: 2, Kind: KindRaw, RawVal: []byte("off")}))
	require.EqualValues(t, 2, s.Count("tag.series"))
}

func TestFatalLatchTripsOnce(t *testing.T) {
	latch := NewFatalLatch()
	tripped, _ := latch.Tripped()
	require.False(t, tripped)

	latch.Trip(ErrOutOfOrder)
	tripped, reason := latch.Tripped()
	require.True(t, tripped)
	require.ErrorIs(t, reason, ErrOutOfOrder)

	latch.Trip(ErrOutOfOrder) // second trip is a no-op, should not panic
}
