// Package monitor drives the polling cycle: fetch availability snapshots per
// user, match them against saved filters, drop already-notified pairs, send
// the rest, and record every accepted send. Cycles never overlap; a tick
// that arrives while one runs is dropped, not queued.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"classwatch/internal/classes"
	"classwatch/internal/dispatch"
	"classwatch/internal/ledger"
	"classwatch/internal/transport"
	"classwatch/internal/upstream"
	"classwatch/pkg/logx"
)

// FilterSource yields the current saved filters, read once per cycle.
type FilterSource interface {
	ActiveFilters(ctx context.Context) ([]classes.Filter, error)
}

// Fetcher produces one user's availability snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, userID int64, clubs []classes.ClubID, win upstream.Window) ([]classes.ClassInstance, error)
}

// Keeper is the dedup ledger surface the cycle needs.
type Keeper interface {
	IsNew(ctx context.Context, userID int64, key classes.InstanceKey) (bool, error)
	Commit(ctx context.Context, e ledger.Entry) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, to transport.ChatTarget, text string) (dispatch.Outcome, error)
}

type Service struct {
	cfg     Config
	filters FilterSource
	fetcher Fetcher
	ledger  Keeper
	sender  Sender
	log     logx.Logger

	cycleMu sync.Mutex
	phase   atomic.Int32
}

func New(cfg Config, filters FilterSource, fetcher Fetcher, keeper Keeper, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		filters: filters,
		fetcher: fetcher,
		ledger:  keeper,
		sender:  sender,
		log:     log,
	}
}

// Phase reports the current cycle phase.
func (s *Service) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Service) setPhase(p Phase) { s.phase.Store(int32(p)) }

// RunCycle executes one full cycle. If a cycle is already running the tick
// is dropped and the report says so.
func (s *Service) RunCycle(ctx context.Context) CycleReport {
	if !s.cycleMu.TryLock() {
		s.log.Warn("cycle tick dropped, previous cycle still running")
		return CycleReport{Skipped: true}
	}
	defer s.cycleMu.Unlock()

	started := time.Now()
	rep := s.runCycle(ctx)
	if rep.Err != nil {
		s.setPhase(PhaseAborted)
		s.log.Error("cycle aborted", logx.Duration("took", time.Since(started)), logx.Err(rep.Err))
	} else {
		s.setPhase(PhaseIdle)
		s.log.Info("cycle finished",
			logx.Int("users", rep.Users), logx.Int("failed_users", rep.FailedUsers),
			logx.Int("obligations", rep.Obligations), logx.Int("accepted", rep.Accepted),
			logx.Int("rejected", rep.Rejected), logx.Int("failed", rep.Failed),
			logx.Duration("took", time.Since(started)))
	}
	return rep
}

// PruneLedger is the gc job body: drop ledger entries whose class started
// longer ago than the retention window.
func (s *Service) PruneLedger(ctx context.Context) error {
	_, err := s.ledger.PruneBefore(ctx, time.Now().Add(-s.cfg.LedgerRetention))
	return err
}
