package store

import (
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// FatalLatch is the process-wide "something has gone so wrong that this
// node can no longer be trusted to apply inserts" flag from the original
// implementation's global siri_err. It is an explicit value threaded
// through the SeriesStore rather than a package-level global, because a bare
// global makes every caller's fatal-path behavior implicit and untestable —
// a single process may also want independent latches in tests running
// multiple simulated nodes.
type FatalLatch struct {
	mu     sync.Mutex
	tript  bool
	reason error
}

// NewFatalLatch returns an untripped latch.
func NewFatalLatch() *FatalLatch {
	return &FatalLatch{}
}

// Trip permanently marks the latch as tripped, recording the first reason.
// Subsequent calls are no-ops.
func (f *FatalLatch) Trip(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tript {
		return
	}
	f.tript = true
	f.reason = reason
	cclog.Errorf("[STORE] fatal latch tripped: %v", reason)
}

// Tripped reports whether the latch has been tripped, and if so, why.
func (f *FatalLatch) Tripped() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tript, f.reason
}
