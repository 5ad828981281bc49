package appointment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// OverdueAppointment is a confirmed appointment whose patient has not shown
// up within the grace period.
type OverdueAppointment struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	PatientPhone   *string   `json:"patient_phone,omitempty"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	MinutesOverdue int       `json:"minutes_overdue"`
}

// overdue returns the confirmed, never checked-in appointments that started
// more than grace before now.
func overdue(appts []Appointment, now time.Time, grace time.Duration) []*Appointment {
	var out []*Appointment
	for i := range appts {
		a := &appts[i]
		if a.Status != StatusConfirmed || a.Start == nil || a.CheckInTime != nil {
			continue
		}
		if now.Sub(*a.Start) > grace {
			out = append(out, a)
		}
	}
	return out
}

// DetectOverdue marks today's overdue confirmed appointments suspected_missing
// and reports them.
func (s *Service) DetectOverdue(ctx context.Context, practitionerID uuid.UUID, now time.Time) ([]OverdueAppointment, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.detect_overdue")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	var report []OverdueAppointment
	err := s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		report = report[:0]

		appts, err := tx.ListAppointments(ctx, AppointmentFilter{
			PractitionerID: practitionerID,
			Date:           s.today(now),
			Statuses:       []Status{StatusConfirmed},
		})
		if err != nil {
			return fmt.Errorf("load confirmed appointments: %w", err)
		}

		for _, a := range overdue(appts, now, s.cfg.NoShowGrace) {
			if err := a.Transition(StatusSuspectedMissing); err != nil {
				return err
			}
			a.UpdatedAt = now
			if err := tx.SaveAppointment(ctx, a); err != nil {
				return fmt.Errorf("mark suspected missing: %w", err)
			}

			minutes := int(math.Round(now.Sub(*a.Start).Minutes()))
			entry := OverdueAppointment{
				AppointmentID:  a.ID,
				PatientID:      a.PatientID,
				ScheduledAt:    *a.Start,
				MinutesOverdue: minutes,
			}
			if p, err := tx.GetPatientByID(ctx, a.PatientID); err == nil {
				entry.PatientName = p.Name
				entry.PatientPhone = p.Phone
			}
			report = append(report, entry)

			s.logEvent(ctx, tx, a.ID, EventSuspectedMissing, map[string]any{
				"scheduled_at":    *a.Start,
				"minutes_overdue": minutes,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(report) > 0 {
		s.metrics.AddSuspectedMissing(len(report))
		s.logger.Info("overdue appointments flagged",
			"practitioner_id", practitionerID, "count", len(report))
	}
	return report, nil
}

type NoShowResult struct {
	AppointmentID    uuid.UUID `json:"appointment_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	Status           Status    `json:"status"`
	ReliabilityScore float64   `json:"reliability_score"`
}

// ConfirmNoShow finalizes an appointment as no_show and penalizes the patient.
func (s *Service) ConfirmNoShow(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*NoShowResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.confirm_no_show")
	defer span.End()
	span.SetAttributes(appointmentAttr(appointmentID))

	appt, err := s.loadAppointment(ctx, s.repo, appointmentID)
	if err != nil {
		return nil, err
	}

	var res *NoShowResult
	err = s.mutate(ctx, appt.PractitionerID, func(ctx context.Context, tx Repository) error {
		a, err := s.loadAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := a.Transition(StatusNoShow); err != nil {
			return err
		}
		a.UpdatedAt = now
		if err := tx.SaveAppointment(ctx, a); err != nil {
			return fmt.Errorf("save no-show: %w", err)
		}

		score, err := s.applyEventTx(ctx, tx, a.PatientID, ReliabilityNoShow)
		if err != nil {
			return err
		}
		s.logEvent(ctx, tx, a.ID, EventNoShowConfirmed, map[string]any{
			"patient_id":        a.PatientID,
			"reliability_score": score,
		})
		res = &NoShowResult{
			AppointmentID:    a.ID,
			PatientID:        a.PatientID,
			Status:           a.Status,
			ReliabilityScore: score,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RestoreNoShow undoes a wrongly confirmed no-show: the patient's score is
// restored and the appointment goes back into today's queue as checked in.
func (s *Service) RestoreNoShow(ctx context.Context, appointmentID uuid.UUID, reason RestoreReason, now time.Time) (*NoShowResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.restore_no_show")
	defer span.End()
	span.SetAttributes(appointmentAttr(appointmentID))

	appt, err := s.loadAppointment(ctx, s.repo, appointmentID)
	if err != nil {
		return nil, err
	}

	var res *NoShowResult
	err = s.mutate(ctx, appt.PractitionerID, func(ctx context.Context, tx Repository) error {
		a, err := s.loadAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := a.Transition(StatusCheckedIn); err != nil {
			return err
		}
		if a.ArrivalTime == nil {
			a.ArrivalTime = timePtr(now)
		}
		a.CheckInTime = timePtr(now)

		// The slot may have been rebooked since the no-show released it.
		if a.Start != nil {
			sameDay, err := tx.ListAppointments(ctx, AppointmentFilter{
				PractitionerID: a.PractitionerID,
				Date:           a.Date,
				Statuses:       slotHoldingStatuses,
			})
			if err != nil {
				return fmt.Errorf("load slot claimants: %w", err)
			}
			for i := range sameDay {
				other := &sameDay[i]
				if other.ID != a.ID && other.IsShadowSlot == a.IsShadowSlot && a.SameSlot(other) {
					if _, err := s.toTicket(ctx, tx, a, now); err != nil {
						return err
					}
					break
				}
			}
		}

		if a.QueueNumber == nil {
			n, err := s.nextQueueNumber(ctx, tx, a.PractitionerID, a.Date)
			if err != nil {
				return err
			}
			a.QueueNumber = intPtr(n)
		}
		a.UpdatedAt = now
		if err := tx.SaveAppointment(ctx, a); err != nil {
			return fmt.Errorf("save restored appointment: %w", err)
		}

		score, err := s.restoreTx(ctx, tx, a.PatientID, reason)
		if err != nil {
			return err
		}
		s.logEvent(ctx, tx, a.ID, EventNoShowRestored, map[string]any{
			"reason":            reason,
			"reliability_score": score,
		})
		res = &NoShowResult{
			AppointmentID:    a.ID,
			PatientID:        a.PatientID,
			Status:           a.Status,
			ReliabilityScore: score,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
