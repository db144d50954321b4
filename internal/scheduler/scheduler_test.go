package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"classwatch/pkg/logx"
)

func TestAddRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	if err := s.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatal("expected error for malformed spec")
	}
	if err := s.Add("ok", "*/5 * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("five-field spec rejected: %v", err)
	}
	if err := s.Add("ok6", "*/2 * * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("six-field spec rejected: %v", err)
	}
	if err := s.Add("every", "@every 30s", func(context.Context) {}); err != nil {
		t.Fatalf("descriptor spec rejected: %v", err)
	}
}

func TestStartRejectsUnknownTimezone(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Mars/Olympus"}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestJobRunsAndStops(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	if err := s.Add("tick", "* * * * * *", func(ctx context.Context) {
		runs.Add(1)
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(stopCtx)

	after := runs.Load()
	time.Sleep(1100 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("job kept running after Stop")
	}
}

func TestAddAfterStartFails(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Add("late", "* * * * *", func(context.Context) {}); err == nil {
		t.Fatal("expected error adding a job after start")
	}
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, logx.Nop())
	var after atomic.Int32
	_ = s.Add("boom", "* * * * * *", func(ctx context.Context) {
		if after.Add(1) == 1 {
			panic("kaboom")
		}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.After(4 * time.Second)
	for after.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler stopped after a job panic")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
