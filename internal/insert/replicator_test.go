package insert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReplicatorDefaultsToAllowAll(t *testing.T) {
	r := NewReplicator(nil, 0, "replica-b")
	require.True(t, r.Filter("any.series"))
}

func TestReplicateSkipsFilteredSeriesWithoutTouchingClient(t *testing.T) {
	r := NewReplicator(nil, 0, "replica-b")
	r.Filter = func(string) bool { return false }

	// Client is nil; Replicate must short-circuit before ever calling
	// r.Client.Publish when the filter excludes the series.
	err := r.Replicate("cpu.load", nil)
	require.NoError(t, err)
}

func TestBeginInitialSyncFiltersAlreadySyncedSeries(t *testing.T) {
	r := NewReplicator(nil, 0, "replica-b")
	r.BeginInitialSync(map[string]bool{"cpu.load": true})

	require.False(t, r.Filter("cpu.load"))
	require.True(t, r.Filter("mem.used"))
}

func TestEndInitialSyncRestoresAllowAll(t *testing.T) {
	r := NewReplicator(nil, 0, "replica-b")
	r.BeginInitialSync(map[string]bool{"cpu.load": true})
	r.EndInitialSync()

	require.True(t, r.Filter("cpu.load"))
}
