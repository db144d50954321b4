// Package scheduler runs named jobs on cron specs in a configured timezone.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"classwatch/pkg/logx"
)

type Config struct {
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string
}

type job struct {
	name string
	spec string
	fn   func(ctx context.Context)
}

type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	jobs    []job
	c       *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers a job. The spec is validated immediately; registration after
// Start is rejected.
func (s *Service) Add(name, spec string, fn func(ctx context.Context)) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %q: bad cron spec %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return fmt.Errorf("job %q: scheduler already started", name)
	}
	s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn})
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, j := range s.jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { s.run(j) }); err != nil {
			s.cancel()
			return fmt.Errorf("job %q: %w", j.name, err)
		}
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Service) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				logx.String("job", j.name), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	j.fn(ctx)
}

// Stop halts triggering and waits for running jobs up to the context
// deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}
