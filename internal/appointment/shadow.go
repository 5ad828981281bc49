package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ShadowOutcome string

const (
	OutcomeNoConflict      ShadowOutcome = "no_conflict"
	OutcomeConvertToTicket ShadowOutcome = "convert_to_ticket"
	OutcomeShadowTakesSlot ShadowOutcome = "shadow_takes_slot"
	OutcomeResolveShadow   ShadowOutcome = "resolve_shadow"
)

// ShadowResolution is the result of resolving a contested slot at check-in.
type ShadowResolution struct {
	Outcome       ShadowOutcome
	AppointmentID uuid.UUID
	// QueueNumber is set when the subject itself was converted to a ticket.
	QueueNumber *int
	// Demoted lists shadow claimants turned into tickets by their slot's holder.
	Demoted []uuid.UUID
}

// shouldShadow reports whether a patient with score may overbook start.
// Only one shadow may ever sit on a slot.
func shouldShadow(score, threshold float64, existing []Appointment, start time.Time) bool {
	return score < threshold && shadowAt(existing, start) == nil
}

// resolveShadowConflict classifies the subject's slot against the other
// active claimants of the same slot. For OutcomeResolveShadow it also returns
// the shadows that must give the slot up.
func resolveShadowConflict(subject *Appointment, sameDay []Appointment) (ShadowOutcome, []*Appointment) {
	var others []*Appointment
	for i := range sameDay {
		a := &sameDay[i]
		if a.ID == subject.ID || !a.Status.in(slotHoldingStatuses) || !subject.SameSlot(a) {
			continue
		}
		others = append(others, a)
	}
	if len(others) == 0 {
		return OutcomeNoConflict, nil
	}

	// A claimant of the same kind can only be there if the subject's slot was
	// released and rebooked while it was flagged missing.
	for _, a := range others {
		if a.IsShadowSlot == subject.IsShadowSlot {
			return OutcomeConvertToTicket, nil
		}
	}

	if subject.IsShadowSlot {
		for _, a := range others {
			if !a.IsShadowSlot && a.HasArrived() {
				return OutcomeConvertToTicket, nil
			}
		}
		return OutcomeShadowTakesSlot, nil
	}

	var present []*Appointment
	for _, a := range others {
		if a.IsShadowSlot && a.HasArrived() {
			present = append(present, a)
		}
	}
	if len(present) == 0 {
		return OutcomeNoConflict, nil
	}
	return OutcomeResolveShadow, present
}

// ShouldShadow decides at booking time whether patientID would be placed
// on start as a shadow claimant.
func (s *Service) ShouldShadow(ctx context.Context, patientID, practitionerID uuid.UUID, start time.Time) (bool, error) {
	p, err := s.loadPatient(ctx, s.repo, patientID)
	if err != nil {
		return false, err
	}
	start = start.In(s.loc)
	existing, err := s.repo.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: practitionerID,
		Date:           dayOf(start, s.loc),
		Statuses:       slotHoldingStatuses,
	})
	if err != nil {
		return false, fmt.Errorf("load appointments: %w", err)
	}
	return shouldShadow(p.ReliabilityScore, s.cfg.ShadowScoreThreshold, existing, start), nil
}

// ResolveConflict settles a contested slot for appointmentID without
// checking it in.
func (s *Service) ResolveConflict(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*ShadowResolution, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.resolve_conflict")
	defer span.End()
	span.SetAttributes(appointmentAttr(appointmentID))

	appt, err := s.loadAppointment(ctx, s.repo, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Start == nil {
		return nil, ErrNotScheduled
	}

	var res *ShadowResolution
	err = s.mutate(ctx, appt.PractitionerID, func(ctx context.Context, tx Repository) error {
		subject, err := s.loadAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		res, err = s.resolveTx(ctx, tx, subject, now)
		if err != nil {
			return err
		}
		if res.Outcome == OutcomeConvertToTicket {
			if err := tx.SaveAppointment(ctx, subject); err != nil {
				return fmt.Errorf("save converted ticket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolveTx runs resolveShadowConflict for subject and applies its effects.
// Demoted shadows are saved here; subject is mutated in place and left for
// the caller to save.
func (s *Service) resolveTx(ctx context.Context, tx Repository, subject *Appointment, now time.Time) (*ShadowResolution, error) {
	res := &ShadowResolution{Outcome: OutcomeNoConflict, AppointmentID: subject.ID}
	if subject.Start == nil {
		return res, nil
	}

	sameDay, err := tx.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: subject.PractitionerID,
		Date:           subject.Date,
		Statuses:       slotHoldingStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("load slot claimants: %w", err)
	}

	outcome, demote := resolveShadowConflict(subject, sameDay)
	res.Outcome = outcome

	switch outcome {
	case OutcomeConvertToTicket:
		slot := *subject.Start
		n, err := s.toTicket(ctx, tx, subject, now)
		if err != nil {
			return nil, err
		}
		res.QueueNumber = intPtr(n)
		s.logEvent(ctx, tx, subject.ID, EventShadowConverted, map[string]any{
			"slot":         slot,
			"queue_number": n,
			"reason":       "holder_present",
		})
	case OutcomeResolveShadow:
		for _, shadow := range demote {
			slot := *shadow.Start
			n, err := s.toTicket(ctx, tx, shadow, now)
			if err != nil {
				return nil, err
			}
			if err := tx.SaveAppointment(ctx, shadow); err != nil {
				return nil, fmt.Errorf("save demoted shadow: %w", err)
			}
			res.Demoted = append(res.Demoted, shadow.ID)
			s.logEvent(ctx, tx, shadow.ID, EventShadowConverted, map[string]any{
				"slot":         slot,
				"queue_number": n,
				"reason":       "holder_arrived",
				"holder_id":    subject.ID,
			})
		}
	}

	if outcome != OutcomeNoConflict {
		s.logger.Info("slot conflict resolved",
			"appointment_id", subject.ID, "practitioner_id", subject.PractitionerID,
			"outcome", outcome, "demoted", len(res.Demoted))
	}
	return res, nil
}

// toTicket strips a's fixed time and appends it to the end of today's queue.
func (s *Service) toTicket(ctx context.Context, tx Repository, a *Appointment, now time.Time) (int, error) {
	n, err := s.nextQueueNumber(ctx, tx, a.PractitionerID, a.Date)
	if err != nil {
		return 0, err
	}
	a.Start = nil
	a.BookingType = BookingTicket
	a.QueueNumber = intPtr(n)
	a.UpdatedAt = now
	return n, nil
}
