package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ShiftMove records where one appointment went during a shift.
type ShiftMove struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	OldStart      time.Time `json:"old_start"`
	NewStart      time.Time `json:"new_start"`
	Shadow        bool      `json:"shadow"`
	Promoted      bool      `json:"promoted,omitempty"`
}

type ShiftResult struct {
	PractitionerID uuid.UUID     `json:"practitioner_id"`
	Delta          time.Duration `json:"delta"`
	Moves          []ShiftMove   `json:"moves"`
}

// ceilToStep rounds t up to the next multiple of step counted from local midnight.
func ceilToStep(t time.Time, step time.Duration, loc *time.Location) time.Time {
	day := dayOf(t, loc)
	off := t.Sub(day)
	if rem := off % step; rem != 0 {
		off += step - rem
	}
	return day.Add(off)
}

// findNextFreeSlot probes forward from tentative in ProbeStep increments and
// returns the first start where duration fits. Probing never starts before
// notBefore, skips to the next day once a day's window is exhausted and gives
// up with ErrNoAvailableSlot past the horizon or the iteration ceiling.
// With rider set the slot must also be free of another shadow claimant.
func (s *Service) findNextFreeSlot(ctx context.Context, p *slotPlanner, tentative time.Time, duration time.Duration, exclude map[uuid.UUID]bool, notBefore time.Time, rider bool) (time.Time, error) {
	if duration <= 0 {
		duration = s.cfg.DefaultDuration
	}
	step := s.cfg.ProbeStep

	candidate := tentative.In(s.loc)
	if candidate.Before(notBefore) {
		candidate = ceilToStep(notBefore.In(s.loc), step, s.loc)
	}
	horizon := dayOf(tentative, s.loc).AddDate(0, 0, s.cfg.ShiftHorizonDays+1)

	for i := 0; i < s.cfg.MaxProbeIterations; i++ {
		if !candidate.Before(horizon) {
			break
		}

		day := dayOf(candidate, s.loc)
		opens, closes, ok := workingHours(p.windows, day)
		if !ok {
			candidate = day.AddDate(0, 0, 1)
			continue
		}
		if candidate.Before(opens) {
			candidate = opens
		}
		if candidate.Add(duration).After(closes) {
			candidate = day.AddDate(0, 0, 1)
			continue
		}

		err := p.check(ctx, candidate, duration, exclude)
		if err == nil && rider {
			err = p.checkShadowFree(ctx, candidate, exclude)
		}
		switch {
		case err == nil:
			return candidate, nil
		case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrOutOfWorkingHours):
			candidate = candidate.Add(step)
		default:
			return time.Time{}, err
		}
	}
	return time.Time{}, fmt.Errorf("%w: from %s", ErrNoAvailableSlot, tentative.Format(time.RFC3339))
}

// FindNextFreeSlot returns the first start at or after tentative where a
// duration-long appointment fits, ignoring exclude.
func (s *Service) FindNextFreeSlot(ctx context.Context, practitionerID uuid.UUID, tentative time.Time, duration time.Duration, exclude uuid.UUID, now time.Time) (time.Time, error) {
	p, err := s.newPlanner(ctx, s.repo, practitionerID, tentative, s.cfg.ShiftHorizonDays+1)
	if err != nil {
		return time.Time{}, err
	}
	return s.findNextFreeSlot(ctx, p, tentative, duration, map[uuid.UUID]bool{exclude: true}, now, false)
}

// Shift moves every appointment of today starting after now by delta and
// re-places each into the next free slot. Delays are processed latest first
// and advances earliest first so no appointment walks into a slot that has
// not been vacated yet. The whole shift commits or nothing does.
func (s *Service) Shift(ctx context.Context, practitionerID uuid.UUID, delta time.Duration, now time.Time) (*ShiftResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.shift")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	began := time.Now()
	result := &ShiftResult{PractitionerID: practitionerID, Delta: delta}

	err := s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		result.Moves = result.Moves[:0]

		appts, err := tx.ListAppointments(ctx, AppointmentFilter{
			PractitionerID: practitionerID,
			Date:           s.today(now),
			Statuses:       slotHoldingStatuses,
		})
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}

		var holders []*Appointment
		for _, a := range slotAnchors(appts) {
			if a.Start.After(now) {
				holders = append(holders, a)
			}
		}
		slices.SortFunc(holders, func(a, b *Appointment) int { return a.Start.Compare(*b.Start) })
		if delta > 0 {
			slices.Reverse(holders)
		}

		planner, err := s.newPlanner(ctx, tx, practitionerID, now, s.cfg.ShiftHorizonDays+1)
		if err != nil {
			return err
		}

		for _, h := range holders {
			riders := ridersOf(appts, h)
			// a shadow whose holder left takes its new slot as the holder
			promote := h.IsShadowSlot

			exclude := map[uuid.UUID]bool{h.ID: true}
			for _, r := range riders {
				exclude[r.ID] = true
			}

			oldStart := *h.Start
			found, err := s.findNextFreeSlot(ctx, planner, oldStart.Add(delta), h.duration(), exclude, now, len(riders) > 0)
			if err != nil {
				return err
			}
			if found.Equal(oldStart) {
				continue
			}

			for _, a := range append([]*Appointment{h}, riders...) {
				promoted := promote && a.ID == h.ID
				a.Start = timePtr(found)
				a.Date = dayOf(found, s.loc)
				a.UpdatedAt = now
				if promoted {
					a.IsShadowSlot = false
				}
				if err := tx.SaveAppointment(ctx, a); err != nil {
					return fmt.Errorf("save shifted appointment %s: %w", a.ID, err)
				}
				planner.record(*a)
				s.logEvent(ctx, tx, a.ID, EventAppointmentShifted, map[string]any{
					"old_start": oldStart,
					"new_start": found,
					"delta":     delta.Minutes(),
					"promoted":  promoted,
				})
				result.Moves = append(result.Moves, ShiftMove{
					AppointmentID: a.ID,
					OldStart:      oldStart,
					NewStart:      found,
					Shadow:        a.IsShadowSlot,
					Promoted:      promoted,
				})
			}
		}
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrNoAvailableSlot) {
			outcome = "no_slot"
		}
		s.metrics.ObserveShift(outcome, time.Since(began).Seconds())
		s.logger.Warn("shift aborted",
			"practitioner_id", practitionerID, "delta", delta, "error", err)
		return nil, err
	}

	s.metrics.ObserveShift("ok", time.Since(began).Seconds())
	s.logger.Info("schedule shifted",
		"practitioner_id", practitionerID, "delta", delta, "moved", len(result.Moves))
	return result, nil
}
