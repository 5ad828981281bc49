package appointment

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type CheckInResult struct {
	Appointment      *Appointment
	Resolution       *ShadowResolution
	ReliabilityEvent ReliabilityEvent
	ReliabilityScore *float64
	Queue            []QueueEntry
}

// punctuality classifies a timed arrival against lateThreshold. Untimed
// appointments have nothing to be late for.
func punctuality(a *Appointment, arrival time.Time, lateThreshold time.Duration) (ReliabilityEvent, bool) {
	if a.Start == nil {
		return "", false
	}
	if arrival.Sub(*a.Start) > lateThreshold {
		return ReliabilityLate, true
	}
	return ReliabilityPunctual, true
}

// CheckIn records the patient's arrival, adjusts their reliability, settles
// any shadow conflict on the slot and reorders the queue.
func (s *Service) CheckIn(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*CheckInResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.check_in")
	defer span.End()
	span.SetAttributes(appointmentAttr(appointmentID))

	appt, err := s.loadAppointment(ctx, s.repo, appointmentID)
	if err != nil {
		return nil, err
	}

	var res *CheckInResult
	err = s.mutate(ctx, appt.PractitionerID, func(ctx context.Context, tx Repository) error {
		a, err := s.loadAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status == StatusNoShow {
			return fmt.Errorf("%w: no-show must be restored, not checked in", ErrInvalidStatusTransition)
		}
		if err := a.Transition(StatusCheckedIn); err != nil {
			return err
		}
		res = &CheckInResult{Appointment: a}

		if a.ArrivalTime == nil {
			a.ArrivalTime = timePtr(now)
		}
		a.CheckInTime = timePtr(now)
		a.UpdatedAt = now

		if ev, ok := punctuality(a, *a.ArrivalTime, s.cfg.LateThreshold); ok {
			score, err := s.applyEventTx(ctx, tx, a.PatientID, ev)
			if err != nil {
				return err
			}
			res.ReliabilityEvent = ev
			res.ReliabilityScore = &score
		}

		resolution, err := s.resolveTx(ctx, tx, a, now)
		if err != nil {
			return err
		}
		res.Resolution = resolution

		if err := tx.SaveAppointment(ctx, a); err != nil {
			return fmt.Errorf("save check-in: %w", err)
		}
		s.logEvent(ctx, tx, a.ID, EventCheckedIn, map[string]any{
			"arrival_time": a.ArrivalTime,
			"punctuality":  res.ReliabilityEvent,
			"resolution":   resolution.Outcome,
		})

		res.Queue, err = s.reorderTx(ctx, tx, a.PractitionerID, now)
		if err != nil {
			return err
		}
		for _, e := range res.Queue {
			if e.AppointmentID == a.ID {
				a.QueueNumber = intPtr(e.Position)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveCheckIn(string(res.Resolution.Outcome))
	s.logger.Info("patient checked in",
		"appointment_id", appointmentID, "practitioner_id", appt.PractitionerID,
		"resolution", res.Resolution.Outcome, "punctuality", res.ReliabilityEvent)
	return res, nil
}

type CallNextResult struct {
	Completed *uuid.UUID   `json:"completed,omitempty"`
	Called    *Appointment `json:"called,omitempty"`
}

// callableStatuses may be called into the consultation room.
var callableStatuses = []Status{StatusCheckedIn, StatusWaiting, StatusConfirmed}

// CallNext completes the consultation in progress and calls the next patient
// in queue order.
func (s *Service) CallNext(ctx context.Context, practitionerID uuid.UUID, now time.Time) (*CallNextResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.call_next")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	res := &CallNextResult{}
	err := s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		*res = CallNextResult{}
		today := s.today(now)

		current, err := tx.ListAppointments(ctx, AppointmentFilter{
			PractitionerID: practitionerID,
			Date:           today,
			Statuses:       []Status{StatusInProgress},
		})
		if err != nil {
			return fmt.Errorf("load current consultation: %w", err)
		}
		for i := range current {
			a := &current[i]
			if err := a.Transition(StatusCompleted); err != nil {
				return err
			}
			a.UpdatedAt = now
			if err := tx.SaveAppointment(ctx, a); err != nil {
				return fmt.Errorf("complete appointment: %w", err)
			}
			s.logEvent(ctx, tx, a.ID, EventAppointmentCompleted, nil)
			res.Completed = &a.ID
		}

		waiting, err := tx.ListAppointments(ctx, AppointmentFilter{
			PractitionerID: practitionerID,
			Date:           today,
			Statuses:       callableStatuses,
		})
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		if len(waiting) == 0 {
			return nil
		}

		ptrs := make([]*Appointment, len(waiting))
		for i := range waiting {
			ptrs[i] = &waiting[i]
		}
		next := slices.MinFunc(ptrs, priorOrder)

		if next.QueueNumber == nil {
			n, err := s.nextQueueNumber(ctx, tx, practitionerID, today)
			if err != nil {
				return err
			}
			next.QueueNumber = intPtr(n)
		}
		if err := next.Transition(StatusInProgress); err != nil {
			return err
		}
		next.UpdatedAt = now
		if err := tx.SaveAppointment(ctx, next); err != nil {
			return fmt.Errorf("call patient: %w", err)
		}
		s.logEvent(ctx, tx, next.ID, EventPatientCalled, map[string]any{
			"queue_number": *next.QueueNumber,
		})
		res.Called = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Called != nil {
		s.logger.Info("patient called",
			"practitioner_id", practitionerID, "appointment_id", res.Called.ID,
			"queue_number", *res.Called.QueueNumber)
	}
	return res, nil
}
