// Package transport defines the outbound messaging surface. The dispatcher
// only needs to send text to a chat; everything adapter-specific stays behind
// the Adapter interface.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// RejectedError marks a permanent refusal by the messaging platform: the
// recipient blocked the bot, deleted the account, or the chat is gone.
// Retrying cannot help and the caller should treat the send as terminally
// handled.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("send rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// ThrottledError wraps a platform rate-limit response. RetryAfter is the
// platform-suggested pause; zero when the platform did not say.
type ThrottledError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("send throttled (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

func IsThrottled(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}
