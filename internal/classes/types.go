// Package classes holds the domain model of the availability monitor:
// class instances as normalized from the upstream schedule, user filters,
// and the pure matching rules between the two.
package classes

import "time"

// ClubID identifies a fitness club in the upstream system.
type ClubID int64

// InstanceKey is the stable upstream identifier of one concrete class
// occurrence. It is the natural key for deduplication: the ledger records
// (user, InstanceKey) pairs, never spot counts.
type InstanceKey string

// ClassInstance is one concrete, time-bound occurrence of a class at a club.
//
// Instances are immutable once fetched within a cycle and re-fetched fresh
// every cycle. Start carries the club's local time zone; weekday and
// time-of-day filter dimensions are evaluated against it as-is, so two clubs
// in different zones each match in their own local time.
type ClassInstance struct {
	Key         InstanceKey
	Club        ClubID
	ClubName    string
	Zone        string
	ClassType   string // upstream "timetable" id
	ClassName   string
	Trainer     string
	TrainerName string

	Start    time.Time // club-local
	Duration time.Duration

	Capacity  int
	FreeSpots int
}

// Bookable reports whether the instance has at least one open spot.
// A full class is never a notification candidate.
func (c ClassInstance) Bookable() bool { return c.FreeSpots > 0 }
