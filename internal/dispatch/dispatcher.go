// Package dispatch delivers notification messages through a transport
// adapter, applying a global send rate limit and a short bounded retry for
// transient platform failures. The verdict it returns is what the caller's
// at-most-once bookkeeping hangs on: only Accepted may be committed.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"classwatch/internal/transport"
	"classwatch/pkg/logx"
)

// Outcome is the terminal verdict of one delivery attempt.
type Outcome int

const (
	// Accepted means the platform took the message; the obligation is done.
	Accepted Outcome = iota
	// Rejected means the platform refused permanently (blocked, chat gone).
	// The obligation is terminally handled without a delivery.
	Rejected
	// Failed means attempts were exhausted on transient errors. The
	// obligation stays open for a future cycle.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

type Config struct {
	// MessagesPerSecond caps outbound sends across all users.
	MessagesPerSecond float64
	Burst             int
	// Attempts bounds in-call retries on transient errors.
	Attempts int
	Backoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

type Dispatcher struct {
	adapter transport.Adapter
	limiter *rate.Limiter
	log     logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(adapter transport.Adapter, cfg Config, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		cfg:     cfg,
		log:     log,
	}
}

// Apply adjusts the rate limit and retry knobs in place on config reload.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.limiter.SetLimit(rate.Limit(cfg.MessagesPerSecond))
	d.limiter.SetBurst(cfg.Burst)
}

// Send delivers one message, waiting on the rate limiter first. Transient
// failures are retried within the call; a permanent platform refusal returns
// Rejected immediately.
func (d *Dispatcher) Send(ctx context.Context, to transport.ChatTarget, text string) (Outcome, error) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return Failed, err
		}

		err := d.adapter.SendText(ctx, to, text, &transport.SendOptions{
			ParseMode:      "HTML",
			DisablePreview: true,
		})
		if err == nil {
			return Accepted, nil
		}
		if transport.IsRejected(err) {
			d.log.Warn("recipient refused delivery",
				logx.Int64("chat", to.ChatID), logx.Err(err))
			return Rejected, err
		}

		lastErr = err
		pause := cfg.Backoff * time.Duration(1<<(attempt-1))
		if after, ok := transport.IsThrottled(err); ok && after > pause {
			pause = after
		}
		d.log.Debug("send attempt failed",
			logx.Int64("chat", to.ChatID), logx.Int("attempt", attempt),
			logx.Duration("pause", pause), logx.Err(err))

		if attempt == cfg.Attempts {
			break
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return Failed, ctx.Err()
		case <-t.C:
		}
	}
	return Failed, lastErr
}
