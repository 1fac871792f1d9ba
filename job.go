package cog

import (
	"sync"
	"time"

	"github.com/jasonmoo/cog/internal/protocol"
)

// Priority selects one of Gearman's three submit-job queues. Jobs
// submitted HighPriority always take precedence over NormalPriority, which
// in turn takes precedence over LowPriority.
type Priority = protocol.Priority

const (
	LowPriority    = protocol.PriorityLow
	NormalPriority = protocol.PriorityNormal
	HighPriority   = protocol.PriorityHigh
)

// RequestState is a JobRequest's position in the lifecycle spec.md §3
// describes: UNKNOWN -> PENDING -> CREATED -> {COMPLETE, FAILED}.
type RequestState int

const (
	// StateUnknown means the request is not bound to a connection, or
	// its connection was lost and it must be resubmitted.
	StateUnknown RequestState = iota
	// StatePending means SUBMIT_JOB was sent and JOB_CREATED is awaited.
	StatePending
	// StateCreated means the server assigned a handle; for a background
	// request this is the successful terminal state.
	StateCreated
	StateComplete
	StateFailed
)

func (s RequestState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StatePending:
		return "pending"
	case StateCreated:
		return "created"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Job is the immutable unit of work: a task name, a dedup key, and an
// opaque payload. Handle is assigned exactly once, by the server.
type Job struct {
	Task   string
	Unique string
	Data   []byte
	Handle string
}

// Status is a job's last-known progress record, as reported by
// WORK_STATUS or a GET_STATUS round trip.
type Status struct {
	Known        bool
	Running      bool
	Numerator    int
	Denominator  int
	TimeReceived time.Time
}

// JobRequest is the client-side tracking object for one submitted Job.
// Every field below is mutated only by the goroutine driving the owning
// Client's poll loop; callers read it only after a blocking submit call
// returns (or under Lock/Unlock if polling concurrently from another
// goroutine).
type JobRequest struct {
	mu sync.Mutex

	Job Job

	Priority           Priority
	Background         bool
	MaxConnectAttempts int
	ConnectAttempts    int

	State     RequestState
	Result    []byte
	Exception []byte

	DataUpdates    [][]byte
	WarningUpdates [][]byte

	Status Status

	TimedOut bool
}

// Lock/Unlock let a caller safely read a JobRequest's fields from a
// goroutine other than the one driving the poll loop (e.g. to poll a
// background job's status from a UI thread while work() runs elsewhere).
func (r *JobRequest) Lock()   { r.mu.Lock() }
func (r *JobRequest) Unlock() { r.mu.Unlock() }

// Complete reports whether this request has reached a terminal,
// successful state. Per spec.md §9's documented ambiguity, a background
// request is complete as soon as it reaches StateCreated -- the client
// never learns of a background job's eventual failure, so a background
// request that somehow observes StateFailed is NOT reported complete.
func (r *JobRequest) Complete() bool {
	if r.Background {
		return r.State == StateCreated
	}
	return r.State == StateComplete
}

// Done reports whether this request has reached any terminal state
// (successful, failed, or timed out) and the poll loop need not revisit
// it.
func (r *JobRequest) Done() bool {
	if r.TimedOut {
		return true
	}
	if r.Background {
		return r.State == StateCreated || r.State == StateFailed
	}
	return r.State == StateComplete || r.State == StateFailed
}
