package monitor

import (
	"time"

	"classwatch/internal/classes"
)

// Phase tracks where a running cycle is; Idle between cycles.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseMatching
	PhaseDispatching
	PhaseCommitting
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseMatching:
		return "matching"
	case PhaseDispatching:
		return "dispatching"
	case PhaseCommitting:
		return "committing"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type Config struct {
	// Lookahead bounds the snapshot window starting at cycle time.
	Lookahead time.Duration
	// UserParallelism caps concurrent per-user fetches.
	UserParallelism int
	FetchTimeout    time.Duration
	DispatchTimeout time.Duration
	// LedgerRetention keeps ledger entries for classes that started within
	// this much of now; older entries are pruned by the gc job.
	LedgerRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Lookahead <= 0 {
		c.Lookahead = 7 * 24 * time.Hour
	}
	if c.UserParallelism <= 0 {
		c.UserParallelism = 3
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = time.Minute
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.LedgerRetention <= 0 {
		c.LedgerRetention = 30 * 24 * time.Hour
	}
	return c
}

// CycleReport summarizes one cycle for logging and tests.
type CycleReport struct {
	Skipped     bool
	Users       int
	FailedUsers int
	Obligations int
	Accepted    int
	Rejected    int
	Failed      int
	Err         error
}

// obligation is one pending notification, carrying the filter that matched
// so renders and logs can name it.
type obligation struct {
	UserID   int64
	Filter   classes.Filter
	Instance classes.ClassInstance
}
