package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxSlotListingDays = 60

type BookRequest struct {
	PatientID          uuid.UUID
	PractitionerID     uuid.UUID
	Start              time.Time
	ConsultationTypeID *uuid.UUID
	UrgencyLevel       int
}

type BookingResult struct {
	Appointment *Appointment
	Shadow      bool
}

func normalizeUrgency(u int) (int, error) {
	if u == 0 {
		return MinUrgency, nil
	}
	if u < MinUrgency || u > MaxUrgency {
		return 0, ErrInvalidUrgency
	}
	return u, nil
}

// durationFor resolves the slot length from the consultation type, if any.
func (s *Service) durationFor(ctx context.Context, practitionerID uuid.UUID, typeID *uuid.UUID) (time.Duration, error) {
	if typeID == nil {
		return s.cfg.DefaultDuration, nil
	}
	ct, err := s.repo.GetConsultationType(ctx, *typeID)
	if err != nil {
		return 0, err
	}
	if ct.PractitionerID != practitionerID || !ct.Active {
		return 0, ErrConsultationTypeNotFound
	}
	if ct.Duration <= 0 {
		return s.cfg.DefaultDuration, nil
	}
	return ct.Duration, nil
}

// BookSlot books req.Start for the patient. A slot already held by another
// patient is offered as a shadow booking to low-reliability patients and
// rejected with ErrSlotConflict otherwise. A uniqueness violation from the
// store is treated the same as finding the slot taken.
func (s *Service) BookSlot(ctx context.Context, req BookRequest, now time.Time) (*BookingResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.book_slot")
	defer span.End()
	span.SetAttributes(practitionerAttr(req.PractitionerID))

	urgency, err := normalizeUrgency(req.UrgencyLevel)
	if err != nil {
		return nil, err
	}
	start := req.Start.In(s.loc)
	if !start.After(now) {
		s.metrics.ObserveBooking("past")
		return nil, ErrSlotInPast
	}
	if _, err := s.repo.GetPractitionerByID(ctx, req.PractitionerID); err != nil {
		return nil, err
	}
	duration, err := s.durationFor(ctx, req.PractitionerID, req.ConsultationTypeID)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		Date:           dayOf(start, s.loc),
		Start:          &start,
		Duration:       duration,
		Status:         StatusConfirmed,
		UrgencyLevel:   urgency,
		BookingType:    BookingScheduled,
	}

	var shadow bool
	err = s.mutate(ctx, req.PractitionerID, func(ctx context.Context, tx Repository) error {
		appt.ID = uuid.New()
		appt.CreatedAt = now
		appt.UpdatedAt = now
		appt.IsShadowSlot = false

		patient, err := s.loadPatient(ctx, tx, req.PatientID)
		if err != nil {
			return err
		}
		if s.cfg.BlockAfterNoShows > 0 && patient.NoShowCount >= s.cfg.BlockAfterNoShows {
			return ErrPatientBlocked
		}

		planner, err := s.newPlanner(ctx, tx, req.PractitionerID, start, 1)
		if err != nil {
			return err
		}

		err = planner.check(ctx, start, duration, nil)
		if err == nil {
			err = tx.CreateAppointment(ctx, appt)
			if err == nil {
				s.logEvent(ctx, tx, appt.ID, EventAppointmentBooked, map[string]any{
					"patient_id": appt.PatientID,
					"start":      start,
					"duration":   duration.Minutes(),
				})
				return nil
			}
			if !errors.Is(err, ErrDuplicateSlot) {
				return fmt.Errorf("create appointment: %w", err)
			}
			// Lost a race for the slot: fall through to the shadow path.
			planner, err = s.newPlanner(ctx, tx, req.PractitionerID, start, 1)
			if err != nil {
				return err
			}
		} else if !errors.Is(err, ErrSlotConflict) {
			return err
		}

		if err := s.bookShadowTx(ctx, tx, planner, appt, patient); err != nil {
			return err
		}
		shadow = true
		return nil
	})
	if err != nil {
		s.metrics.ObserveBooking(bookingOutcome(err))
		return nil, err
	}

	outcome := "booked"
	if shadow {
		outcome = "shadow"
	}
	s.metrics.ObserveBooking(outcome)
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID, "practitioner_id", appt.PractitionerID,
		"patient_id", appt.PatientID, "start", start, "shadow", shadow)
	return &BookingResult{Appointment: appt, Shadow: shadow}, nil
}

// bookShadowTx places appt on an exact slot that already has a holder.
func (s *Service) bookShadowTx(ctx context.Context, tx Repository, planner *slotPlanner, appt *Appointment, patient *Patient) error {
	start := *appt.Start
	existing, err := planner.appointmentsOn(ctx, appt.Date)
	if err != nil {
		return err
	}
	if holderAt(existing, start, nil) == nil {
		return ErrSlotConflict
	}
	if !shouldShadow(patient.ReliabilityScore, s.cfg.ShadowScoreThreshold, existing, start) {
		return ErrSlotConflict
	}
	if err := checkSlot(planner.windows, planner.absences, nil, start, appt.Duration, nil); err != nil {
		return err
	}

	appt.IsShadowSlot = true
	if err := tx.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, ErrDuplicateSlot) {
			return ErrSlotConflict
		}
		return fmt.Errorf("create shadow appointment: %w", err)
	}
	s.logEvent(ctx, tx, appt.ID, EventShadowBooked, map[string]any{
		"patient_id":        appt.PatientID,
		"start":             start,
		"reliability_score": patient.ReliabilityScore,
	})
	return nil
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrOutOfWorkingHours):
		return "out_of_hours"
	case errors.Is(err, ErrPatientBlocked):
		return "blocked"
	case errors.Is(err, ErrPractitionerBusy):
		return "busy"
	default:
		return "error"
	}
}

// BookWalkIn registers a patient who turned up without an appointment and
// gives them the next number in today's queue.
func (s *Service) BookWalkIn(ctx context.Context, patientID, practitionerID uuid.UUID, urgency int, now time.Time) (*Appointment, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.book_walk_in")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	urgency, err := normalizeUrgency(urgency)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		Date:           s.today(now),
		Duration:       s.cfg.DefaultDuration,
		Status:         StatusWaiting,
		UrgencyLevel:   urgency,
		BookingType:    BookingWalkIn,
		ArrivalTime:    timePtr(now),
	}

	err = s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		if _, err := s.loadPatient(ctx, tx, patientID); err != nil {
			return err
		}
		n, err := s.nextQueueNumber(ctx, tx, practitionerID, appt.Date)
		if err != nil {
			return err
		}
		appt.ID = uuid.New()
		appt.QueueNumber = intPtr(n)
		appt.CreatedAt = now
		appt.UpdatedAt = now
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create walk-in: %w", err)
		}
		s.logEvent(ctx, tx, appt.ID, EventWalkInCreated, map[string]any{
			"patient_id":   patientID,
			"queue_number": n,
			"urgency":      urgency,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveBooking("walk_in")
	s.logger.Info("walk-in registered",
		"appointment_id", appt.ID, "practitioner_id", practitionerID, "queue_number", *appt.QueueNumber)
	return appt, nil
}

// Cancel cancels one appointment. Cancelled rows stay in the store.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*Appointment, error) {
	appt, err := s.loadAppointment(ctx, s.repo, appointmentID)
	if err != nil {
		return nil, err
	}

	var out *Appointment
	err = s.mutate(ctx, appt.PractitionerID, func(ctx context.Context, tx Repository) error {
		a, err := s.loadAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		from := a.Status
		if err := a.Transition(StatusCancelled); err != nil {
			return err
		}
		a.UpdatedAt = now
		if err := tx.SaveAppointment(ctx, a); err != nil {
			return fmt.Errorf("save cancellation: %w", err)
		}
		s.logEvent(ctx, tx, a.ID, EventAppointmentCancelled, map[string]any{"from": from})
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment cancelled", "appointment_id", appointmentID)
	return out, nil
}

// CountConflicts reports how many confirmed or waiting appointments fall on
// days between from and to, inclusive.
func (s *Service) CountConflicts(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) (int, error) {
	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: practitionerID,
		Date:           dayOf(from, s.loc),
		Until:          dayOf(to, s.loc),
		Statuses:       occupyingStatuses,
	})
	if err != nil {
		return 0, fmt.Errorf("load appointments: %w", err)
	}
	return len(appts), nil
}

// CancelRange cancels every confirmed or waiting appointment dated between
// from and to, inclusive, typically because the practitioner will be absent.
func (s *Service) CancelRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, reason string, now time.Time) (int, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.cancel_range")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	if to.Before(from) {
		return 0, fmt.Errorf("cancel range: end %s before start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	var cancelled int
	err := s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		cancelled = 0
		appts, err := tx.ListAppointments(ctx, AppointmentFilter{
			PractitionerID: practitionerID,
			Date:           dayOf(from, s.loc),
			Until:          dayOf(to, s.loc),
			Statuses:       occupyingStatuses,
		})
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}
		for i := range appts {
			a := &appts[i]
			if err := a.Transition(StatusCancelled); err != nil {
				return err
			}
			a.UpdatedAt = now
			if err := tx.SaveAppointment(ctx, a); err != nil {
				return fmt.Errorf("save cancellation: %w", err)
			}
			s.logEvent(ctx, tx, a.ID, EventAppointmentCancelled, map[string]any{
				"reason":  "practitioner_absence",
				"details": reason,
			})
			cancelled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("appointments cancelled for absence",
		"practitioner_id", practitionerID, "count", cancelled, "reason", reason)
	return cancelled, nil
}

// DaySlots lists the free starts of one day.
type DaySlots struct {
	Date  time.Time   `json:"date"`
	Slots []time.Time `json:"slots"`
}

// AvailableSlots lists bookable starts per day for days days from from.
// Starts at or before now are never offered.
func (s *Service) AvailableSlots(ctx context.Context, practitionerID uuid.UUID, from time.Time, days int, duration time.Duration, now time.Time) ([]DaySlots, error) {
	if days <= 0 {
		days = 7
	}
	days = min(days, maxSlotListingDays)
	if duration <= 0 {
		duration = s.cfg.DefaultDuration
	}
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, err
	}

	planner, err := s.newPlanner(ctx, s.repo, practitionerID, from, days)
	if err != nil {
		return nil, err
	}

	first := dayOf(from, s.loc)
	out := make([]DaySlots, 0, days)
	for d := 0; d < days; d++ {
		day := first.AddDate(0, 0, d)
		opens, closes, ok := workingHours(planner.windows, day)
		if !ok {
			continue
		}
		ds := DaySlots{Date: day, Slots: []time.Time{}}
		for t := opens; !t.Add(duration).After(closes); t = t.Add(s.cfg.ProbeStep) {
			if !t.After(now) {
				continue
			}
			free, err := planner.isFree(ctx, t, duration, nil)
			if err != nil {
				return nil, err
			}
			if free {
				ds.Slots = append(ds.Slots, t)
			}
		}
		if len(ds.Slots) > 0 {
			out = append(out, ds)
		}
	}
	return out, nil
}
