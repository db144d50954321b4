package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"classwatch/internal/classes"
	"classwatch/internal/transport"
	"classwatch/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	errs  []error
	sent  []string
	calls int
}

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, text)
	return nil
}

func fastConfig() Config {
	return Config{MessagesPerSecond: 1000, Burst: 100, Attempts: 3, Backoff: time.Millisecond}
}

func TestSendAccepted(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	d := New(fa, fastConfig(), logx.Nop())

	out, err := d.Send(context.Background(), transport.ChatTarget{ChatID: 9}, "hello")
	if err != nil || out != Accepted {
		t.Fatalf("Send = %v %v, want Accepted", out, err)
	}
	if fa.calls != 1 || len(fa.sent) != 1 {
		t.Fatalf("adapter calls=%d sent=%d", fa.calls, len(fa.sent))
	}
}

func TestSendRetriesTransientThenAccepts(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{errs: []error{errors.New("flaky"), errors.New("flaky")}}
	d := New(fa, fastConfig(), logx.Nop())

	out, err := d.Send(context.Background(), transport.ChatTarget{ChatID: 9}, "hello")
	if err != nil || out != Accepted {
		t.Fatalf("Send = %v %v, want Accepted after retries", out, err)
	}
	if fa.calls != 3 {
		t.Fatalf("adapter calls = %d, want 3", fa.calls)
	}
}

func TestSendRejectedIsTerminalWithoutRetry(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{errs: []error{
		&transport.RejectedError{Reason: "blocked by user", Err: errors.New("forbidden")},
	}}
	d := New(fa, fastConfig(), logx.Nop())

	out, err := d.Send(context.Background(), transport.ChatTarget{ChatID: 9}, "hello")
	if out != Rejected {
		t.Fatalf("Send = %v %v, want Rejected", out, err)
	}
	if !transport.IsRejected(err) {
		t.Fatalf("error must stay classified: %v", err)
	}
	if fa.calls != 1 {
		t.Fatalf("rejection must not be retried, calls = %d", fa.calls)
	}
}

func TestSendFailsAfterExhaustedAttempts(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{errs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	d := New(fa, fastConfig(), logx.Nop())

	out, err := d.Send(context.Background(), transport.ChatTarget{ChatID: 9}, "hello")
	if out != Failed || err == nil {
		t.Fatalf("Send = %v %v, want Failed with error", out, err)
	}
	if fa.calls != 3 {
		t.Fatalf("adapter calls = %d, want 3", fa.calls)
	}
}

func TestSendHonorsCancellation(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{errs: []error{errors.New("down"), errors.New("down")}}
	cfg := fastConfig()
	cfg.Backoff = time.Minute
	d := New(fa, cfg, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := d.Send(ctx, transport.ChatTarget{ChatID: 9}, "hello")
	if out != Failed || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send = %v %v, want Failed on deadline", out, err)
	}
}

func TestRenderAvailable(t *testing.T) {
	t.Parallel()

	warsaw := time.FixedZone("CET", 1*60*60)
	inst := classes.ClassInstance{
		ClassName:   "Zdrowy kręgosłup",
		ClubName:    "Zdrofit Warszawa <Centrum>",
		TrainerName: "ADAM KOWALSKI",
		ClassType:   "Pilates",
		Start:       time.Date(2026, 1, 5, 18, 0, 0, 0, warsaw),
		Duration:    55 * time.Minute,
		FreeSpots:   2,
	}

	msg := RenderAvailable(inst)
	for _, want := range []string{
		"<b>Free spot found for a class!</b>",
		"<b>Zdrowy kręgosłup</b>",
		"Gym: Zdrofit Warszawa &lt;Centrum&gt;",
		"Trainer: ADAM KOWALSKI",
		"Type: Pilates",
		"Day: Monday, 05.01.2026",
		"Time: 18:00 - 18:55",
		"Available spots: 2",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestRenderAvailableWithoutDurationOrTrainer(t *testing.T) {
	t.Parallel()

	msg := RenderAvailable(classes.ClassInstance{
		ClassName: "Yoga",
		ClubName:  "Zdrofit",
		Start:     time.Date(2026, 1, 6, 7, 30, 0, 0, time.UTC),
		FreeSpots: 1,
	})
	if strings.Contains(msg, "Trainer:") || strings.Contains(msg, "Type:") {
		t.Fatalf("empty fields must be omitted:\n%s", msg)
	}
	if !strings.Contains(msg, "Time: 07:30\n") {
		t.Fatalf("zero duration must render start only:\n%s", msg)
	}
}
