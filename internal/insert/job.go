package insert

import (
	"sync"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/store"
)

// State is a stage of the insert job state machine: a job always moves
// forward through these in order; there is no path backward.
type State int

const (
	StateParsing State = iota
	StateRouted
	StateDispatched
	StateAwaitingAcks
	StateReplying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateParsing:
		return "PARSING"
	case StateRouted:
		return "ROUTED"
	case StateDispatched:
		return "DISPATCHED"
	case StateAwaitingAcks:
		return "AWAITING_ACKS"
	case StateReplying:
		return "REPLYING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ParsedPoint is one (series, timestamp, value) triple decoded from a
// client payload, before it has been routed to a pool.
type ParsedPoint struct {
	Series string
	Point  store.Point
}

// PoolBatch groups the points destined for a single pool, pre-encoded into
// that pool's own wire payload once Router finishes assigning pools.
type PoolBatch struct {
	PoolID  uint32
	Payload []byte
	NPoints int
}

// InsertJob tracks one client insert request end to end.
type InsertJob struct {
	mu    sync.Mutex
	state State

	RawPoints      []ParsedPoint
	Batches        []PoolBatch
	ReceivedPoints int
	Errors         []error // per-pool or per-server errors collected during dispatch
}

// NewInsertJob creates a job in the Parsing state.
func NewInsertJob() *InsertJob {
	return &InsertJob{state: StateParsing}
}

// Advance moves the job to next, panicking if that would go backward — a
// programming error, not a runtime condition a client can trigger.
func (j *InsertJob) Advance(next State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if next < j.state {
		panic("insert: job state moved backward")
	}
	j.state = next
}

// State returns the job's current stage.
func (j *InsertJob) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// RecordAck folds one pool or server's reply into the job's running totals,
// the direct analogue of INSERT_on_response's ack aggregation.
func (j *InsertJob) RecordAck(points int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.Errors = append(j.Errors, err)
		return
	}
	j.ReceivedPoints += points
}

// ForwardEntry is one series' points awaiting forward to another pool during
// re-indexing.
type ForwardEntry struct {
	Series string
	Points []store.Point
}

// ForwardJob buckets every mis-routed series destined for the same pool into
// a single forward request, dispatched once asynchronously after the local
// test-path loop completes, the Go analogue of an INSERT_TEST_POOL packet.
type ForwardJob struct {
	PoolID  uint32
	Target  cluster.Server
	Entries []ForwardEntry
}
