package models

import (
	"sort"
	"time"
)

// Training is a schedulable session with an optional seat limit.
type Training struct {
	ID              string          `db:"id" json:"id"`
	TrainingTypeID  string          `db:"training_type_id" json:"training_type_id"`
	Title           string          `db:"title" json:"title"`
	MaxParticipants *int            `db:"max_participants" json:"max_participants,omitempty"`
	Active          bool            `db:"active" json:"active"`
	ApplyPolicies   bool            `db:"apply_policies" json:"apply_policies"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	Events          []TrainingEvent `db:"-" json:"events"`
}

// TrainingEvent is a single dated meeting belonging to a training.
type TrainingEvent struct {
	ID         string    `db:"id" json:"id"`
	TrainingID string    `db:"training_id" json:"training_id"`
	StartsAt   time.Time `db:"starts_at" json:"starts_at"`
	EndsAt     time.Time `db:"ends_at" json:"ends_at"`
}

// FirstStart returns the earliest event start, false when the training has no events.
func (t *Training) FirstStart() (time.Time, bool) {
	if t == nil || len(t.Events) == 0 {
		return time.Time{}, false
	}
	first := t.Events[0].StartsAt
	for _, ev := range t.Events[1:] {
		if ev.StartsAt.Before(first) {
			first = ev.StartsAt
		}
	}
	return first, true
}

// Started reports whether any event has begun at the given instant.
func (t *Training) Started(now time.Time) bool {
	if t == nil {
		return false
	}
	for _, ev := range t.Events {
		if !ev.StartsAt.After(now) {
			return true
		}
	}
	return false
}

// SortEvents orders events by start time.
func (t *Training) SortEvents() {
	sort.SliceStable(t.Events, func(i, j int) bool {
		return t.Events[i].StartsAt.Before(t.Events[j].StartsAt)
	})
}
