package upstream

import (
	"context"
	"math/rand/v2"
	"time"

	"classwatch/pkg/logx"
)

// Policy is an explicit retry budget passed into upstream calls.
// Zero fields fall back to the defaults below.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	Base        time.Duration // first retry delay; doubles each attempt
	MaxDelay    time.Duration
	Jitter      float64 // 0.2 = +-20%
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Delay returns the backoff before attempt n+1 (attempt is 1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	// Jitter spreads simultaneous per-user retries apart.
	span := float64(d) * p.Jitter
	d += time.Duration(rand.Float64()*2*span - span)
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs fn with the policy's budget, retrying only while retryable(err)
// holds. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, log logx.Logger, op string, fn func(ctx context.Context) error, retryable func(error) bool) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !retryable(err) {
			return err
		}
		delay := p.Delay(attempt)
		log.Debug("upstream retry scheduled",
			logx.String("op", op),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return err
}
