// Package ledger is the source of at-most-once notification delivery: a
// durable record of which (user, class instance) pairs have already been
// notified. The key is the instance's natural key, never the spot count, so
// flapping availability (spot opened, taken, opened again) cannot re-notify.
package ledger

import (
	"context"
	"time"

	"classwatch/internal/classes"
	"classwatch/internal/storage"
	"classwatch/pkg/logx"
)

// Entry is one recorded notification obligation.
type Entry = storage.NotifiedEntry

// Backend is the durable row store behind the ledger.
type Backend interface {
	InsertNotified(ctx context.Context, e Entry) (inserted bool, err error)
	HasNotified(ctx context.Context, userID int64, key classes.InstanceKey) (bool, error)
	DeleteNotified(ctx context.Context, userID int64, key classes.InstanceKey) error
	PruneNotified(ctx context.Context, before time.Time) (int64, error)
}

type Ledger struct {
	backend Backend
	log     logx.Logger
}

func New(backend Backend, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{backend: backend, log: log}
}

// IsNew reports whether no notification has been recorded for the pair yet.
func (l *Ledger) IsNew(ctx context.Context, userID int64, key classes.InstanceKey) (bool, error) {
	has, err := l.backend.HasNotified(ctx, userID, key)
	if err != nil {
		return false, err
	}
	return !has, nil
}

// Commit records a confirmed dispatch. It is an atomic insert-if-absent: if
// the entry already exists (a concurrent cycle slipped past the overlap
// guard), the duplicate is logged and swallowed; the pair stays
// single-notified either way.
func (l *Ledger) Commit(ctx context.Context, e Entry) error {
	inserted, err := l.backend.InsertNotified(ctx, e)
	if err != nil {
		return err
	}
	if !inserted {
		l.log.Warn("ledger commit raced an existing entry",
			logx.Int64("user", e.UserID), logx.String("key", string(e.ClassKey)))
	}
	return nil
}

// Clear removes one entry; the escape hatch for the external user-reset path.
func (l *Ledger) Clear(ctx context.Context, userID int64, key classes.InstanceKey) error {
	return l.backend.DeleteNotified(ctx, userID, key)
}

// PruneBefore garbage-collects entries whose class started before the cutoff.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.backend.PruneNotified(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.log.Info("pruned ledger entries", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}
