package storage

import (
	"errors"
	"time"

	"classwatch/internal/classes"
)

var ErrNotFound = errors.New("not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is one registered account: the Telegram id doubles as the chat id for
// notifications, the upstream credentials belong to the external credential
// collaborator (stored as given; encryption is not this layer's concern).
type User struct {
	TelegramID int64
	Email      string
	Password   string
}

// FilterRow is the persisted form of a user filter, written by the external
// filter-editing collaborator and read-only here. NULL / empty columns mean
// "match any" for that dimension.
type FilterRow struct {
	ID         int64
	UserID     int64
	ClubID     int64 // 0 = any
	ClubName   string
	ZoneID     string
	Timetable  string
	TrainerID  string
	TimeFrom   string // "HH:MM", empty = open
	TimeTo     string
	Weekdays   string // "1,2,..,7" Monday=1, empty = any
}

// NotifiedEntry is one ledger row.
type NotifiedEntry struct {
	UserID     int64
	ClassKey   classes.InstanceKey
	FilterID   int64
	ClassStart time.Time
	NotifiedAt time.Time
}

// CatalogRow is one cached filter-dimension payload for a club.
type CatalogRow struct {
	Club        classes.ClubID
	Dimension   string
	Payload     []byte
	RefreshedAt time.Time
}
