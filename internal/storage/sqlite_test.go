package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"classwatch/internal/classes"
	"classwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "classwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id int64) {
	t.Helper()
	_, err := s.db.Exec(`INSERT INTO users(telegram_id, email, password) VALUES(?,?,?)`,
		id, "user@example.com", "secret")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestUsersAndCredentials(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedUser(t, s, 100)

	users, err := s.Users(context.Background())
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 1 || users[0].TelegramID != 100 {
		t.Fatalf("unexpected users: %+v", users)
	}

	email, pass, err := s.UserCredentials(context.Background(), 100)
	if err != nil || email != "user@example.com" || pass != "secret" {
		t.Fatalf("UserCredentials: %q %q %v", email, pass, err)
	}
	if _, _, err := s.UserCredentials(context.Background(), 999); err == nil {
		t.Fatal("expected not-found for unknown user")
	}
}

func TestActiveFiltersSkipsBrokenRows(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedUser(t, s, 100)

	mustExec := func(q string, args ...any) {
		t.Helper()
		if _, err := s.db.Exec(q, args...); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}
	mustExec(`INSERT INTO user_filters(user_id, club_id, zone_id, timetable_id, time_from, time_to, weekdays)
	          VALUES(100, 7, '10', '104', '18:00', '20:00', '1')`)
	mustExec(`INSERT INTO user_filters(user_id, club_id, weekdays) VALUES(100, 7, 'bogus')`)

	fs, err := s.ActiveFilters(context.Background())
	if err != nil {
		t.Fatalf("ActiveFilters: %v", err)
	}
	if len(fs) != 1 {
		t.Fatalf("got %d filters, want 1 (broken row skipped)", len(fs))
	}
	f := fs[0]
	if f.UserID != 100 || !f.Club.Matches(7) || f.Club.Matches(75) {
		t.Fatalf("club predicate wrong: %+v", f)
	}
	if !f.Days.Matches(time.Monday) || f.Days.Matches(time.Tuesday) {
		t.Fatalf("weekday set wrong: %v", f.Days)
	}
	if f.Window.IsAny() {
		t.Fatal("expected bounded time window")
	}
}

func TestFilterRowDefaultsToMatchAny(t *testing.T) {
	t.Parallel()

	f, err := FilterRow{ID: 1, UserID: 2}.ToFilter()
	if err != nil {
		t.Fatalf("ToFilter: %v", err)
	}
	if !f.Club.IsAny() || !f.Zone.IsAny() || !f.ClassType.IsAny() || !f.Trainer.IsAny() {
		t.Fatal("empty columns must produce match-any predicates")
	}
	if !f.Days.IsAny() || !f.Window.IsAny() {
		t.Fatal("empty weekday/time columns must match any")
	}
}

func TestInsertNotifiedIsInsertIfAbsent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	entry := NotifiedEntry{
		UserID:     100,
		ClassKey:   classes.InstanceKey("555"),
		FilterID:   1,
		ClassStart: time.Now().Add(24 * time.Hour),
	}

	ins, err := s.InsertNotified(ctx, entry)
	if err != nil || !ins {
		t.Fatalf("first insert: %v inserted=%v", err, ins)
	}
	ins, err = s.InsertNotified(ctx, entry)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if ins {
		t.Fatal("second insert must report not-inserted")
	}

	ok, err := s.HasNotified(ctx, 100, "555")
	if err != nil || !ok {
		t.Fatalf("HasNotified: %v %v", ok, err)
	}
	ok, err = s.HasNotified(ctx, 101, "555")
	if err != nil || ok {
		t.Fatalf("HasNotified wrong user: %v %v", ok, err)
	}
}

func TestPruneNotifiedByClassStart(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	fresh := time.Now().Add(24 * time.Hour)

	keys := []classes.InstanceKey{"a", "b"}
	for i, start := range []time.Time{old, fresh} {
		if _, err := s.InsertNotified(ctx, NotifiedEntry{
			UserID: 100, ClassKey: keys[i], ClassStart: start,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := s.PruneNotified(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneNotified: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	if ok, _ := s.HasNotified(ctx, 100, classes.InstanceKey("b")); !ok {
		t.Fatal("fresh entry must survive pruning")
	}
}

func TestResetUserClearsOnlyThatUser(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	for _, uid := range []int64{100, 200} {
		if _, err := s.InsertNotified(ctx, NotifiedEntry{
			UserID: uid, ClassKey: "k", ClassStart: time.Now(),
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := s.ResetUser(ctx, 100); err != nil {
		t.Fatalf("ResetUser: %v", err)
	}
	if ok, _ := s.HasNotified(ctx, 100, "k"); ok {
		t.Fatal("user 100 ledger must be cleared")
	}
	if ok, _ := s.HasNotified(ctx, 200, "k"); !ok {
		t.Fatal("user 200 ledger must be untouched")
	}
}

func TestCatalogCacheRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	row := CatalogRow{Club: 7, Dimension: "trainers", Payload: []byte(`[{"Id":"185","Name":"ADAM"}]`), RefreshedAt: at}
	if err := s.PutCatalog(ctx, row); err != nil {
		t.Fatalf("PutCatalog: %v", err)
	}
	// Overwrite on refresh.
	row.Payload = []byte(`[]`)
	row.RefreshedAt = at.Add(time.Hour)
	if err := s.PutCatalog(ctx, row); err != nil {
		t.Fatalf("PutCatalog update: %v", err)
	}

	rows, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	got := rows[0]
	if got.Club != 7 || got.Dimension != "trainers" || string(got.Payload) != `[]` {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.RefreshedAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("refreshed_at = %v, want %v", got.RefreshedAt, at.Add(time.Hour))
	}
}
