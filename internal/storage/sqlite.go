// Package storage is the durable layer: users, saved filters, the
// notification ledger rows, and the catalog cache, all in one sqlite file.
// Only ledger entries and the catalog cache are required to survive restarts;
// users and filters live here too because the external collaborators share
// the same database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"classwatch/internal/classes"
	"classwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the sqlite database and applies migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Users ----

func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT telegram_id, email, password FROM users ORDER BY telegram_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.TelegramID, &u.Email, &u.Password); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UserCredentials(ctx context.Context, userID int64) (email, password string, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT email, password FROM users WHERE telegram_id = ?`, userID).
		Scan(&email, &password)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return email, password, err
}

// ---- Filters (read-only; written by the filter-editing collaborator) ----

func (s *Store) FilterRows(ctx context.Context) ([]FilterRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id,
		       COALESCE(club_id, 0), COALESCE(club_name, ''),
		       COALESCE(zone_id, ''), COALESCE(timetable_id, ''), COALESCE(trainer_id, ''),
		       COALESCE(time_from, ''), COALESCE(time_to, ''), COALESCE(weekdays, '')
		FROM user_filters
		ORDER BY user_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilterRow
	for rows.Next() {
		var r FilterRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.ClubID, &r.ClubName,
			&r.ZoneID, &r.Timetable, &r.TrainerID,
			&r.TimeFrom, &r.TimeTo, &r.Weekdays); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveFilters loads all saved filters as domain filters. Rows that fail to
// parse are skipped with a warning so one broken filter cannot take the whole
// matching phase down.
func (s *Store) ActiveFilters(ctx context.Context) ([]classes.Filter, error) {
	rows, err := s.FilterRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]classes.Filter, 0, len(rows))
	for _, r := range rows {
		f, err := r.ToFilter()
		if err != nil {
			s.log.Warn("skipping unparseable filter",
				logx.Int64("filter", r.ID), logx.Int64("user", r.UserID), logx.Err(err))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// ToFilter converts the persisted row into the tagged-predicate domain form.
func (r FilterRow) ToFilter() (classes.Filter, error) {
	f := classes.Filter{ID: r.ID, UserID: r.UserID}

	if r.ClubID != 0 {
		f.Club = classes.Exactly(classes.ClubID(r.ClubID))
	}
	if r.ZoneID != "" {
		f.Zone = classes.Exactly(r.ZoneID)
	}
	if r.Timetable != "" {
		f.ClassType = classes.Exactly(r.Timetable)
	}
	if r.TrainerID != "" {
		f.Trainer = classes.Exactly(r.TrainerID)
	}

	days, err := classes.ParseWeekdaySet(r.Weekdays)
	if err != nil {
		return classes.Filter{}, err
	}
	f.Days = days

	window, err := classes.NewClockRange(r.TimeFrom, r.TimeTo)
	if err != nil {
		return classes.Filter{}, err
	}
	f.Window = window

	f.Label = r.ClubName
	return f, nil
}

// ---- Notification ledger rows ----

// InsertNotified records that a notification was sent for (user, class key).
// It is an atomic insert-if-absent; inserted=false means another commit beat
// this one and the caller must treat the obligation as already delivered.
func (s *Store) InsertNotified(ctx context.Context, e NotifiedEntry) (inserted bool, err error) {
	if e.NotifiedAt.IsZero() {
		e.NotifiedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notified(user_id, class_key, filter_id, class_start_ms, notified_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT(user_id, class_key) DO NOTHING`,
		e.UserID, string(e.ClassKey), e.FilterID, e.ClassStart.UnixMilli(),
		e.NotifiedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) HasNotified(ctx context.Context, userID int64, key classes.InstanceKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notified WHERE user_id = ? AND class_key = ?`,
		userID, string(key)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) DeleteNotified(ctx context.Context, userID int64, key classes.InstanceKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notified WHERE user_id = ? AND class_key = ?`, userID, string(key))
	return err
}

// PruneNotified removes ledger rows for instances that started before the
// cutoff. Returns the number of rows removed.
func (s *Store) PruneNotified(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notified WHERE class_start_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetUser clears a user's whole ledger; the explicit external escape hatch
// (logout) and the only path that deletes entries wholesale.
func (s *Store) ResetUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notified WHERE user_id = ?`, userID)
	return err
}

// ---- Catalog cache ----

func (s *Store) PutCatalog(ctx context.Context, row CatalogRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_cache(club_id, dimension, payload, refreshed_at)
		VALUES(?,?,?,?)
		ON CONFLICT(club_id, dimension) DO UPDATE
		SET payload = excluded.payload, refreshed_at = excluded.refreshed_at`,
		int64(row.Club), row.Dimension, string(row.Payload),
		row.RefreshedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) LoadCatalog(ctx context.Context) ([]CatalogRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT club_id, dimension, payload, refreshed_at FROM catalog_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogRow
	for rows.Next() {
		var (
			r  CatalogRow
			id int64
			at string
		)
		var payload string
		if err := rows.Scan(&id, &r.Dimension, &payload, &at); err != nil {
			return nil, err
		}
		r.Club = classes.ClubID(id)
		r.Payload = []byte(payload)
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			r.RefreshedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
