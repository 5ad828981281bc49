package appointment

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusConfirmed        Status = "confirmed"
	StatusWaiting          Status = "waiting"
	StatusCheckedIn        Status = "checked_in"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusNoShow           Status = "no_show"
	StatusSuspectedMissing Status = "suspected_missing"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

var allStatuses = []Status{
	StatusConfirmed,
	StatusWaiting,
	StatusCheckedIn,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
	StatusSuspectedMissing,
}

// transitions is exhaustive: a status missing from a row cannot be reached from it.
var transitions = map[Status][]Status{
	StatusConfirmed:        {StatusWaiting, StatusCheckedIn, StatusInProgress, StatusCancelled, StatusNoShow, StatusSuspectedMissing},
	StatusWaiting:          {StatusCheckedIn, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusCheckedIn:        {StatusInProgress, StatusCancelled},
	StatusSuspectedMissing: {StatusCheckedIn, StatusNoShow, StatusCancelled},
	StatusInProgress:       {StatusCompleted},
	StatusNoShow:           {StatusCheckedIn},
	StatusCompleted:        nil,
	StatusCancelled:        nil,
}

// Statuses that hold a slot for uniqueness purposes.
var slotHoldingStatuses = []Status{StatusConfirmed, StatusWaiting, StatusCheckedIn}

// Statuses that occupy time for availability checks.
var occupyingStatuses = []Status{StatusConfirmed, StatusWaiting}

// Statuses eligible for the live queue.
var queueStatuses = []Status{StatusWaiting, StatusCheckedIn}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) in(set []Status) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}

// Transition moves a to status to, failing on anything the table does not allow.
func (a *Appointment) Transition(to Status) error {
	if !a.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, a.Status, to)
	}
	a.Status = to
	return nil
}
