package appointment

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

const minCompressedDuration = 5 * time.Minute

// pendingStatuses are appointments still expected to be seen today.
var pendingStatuses = []Status{StatusConfirmed, StatusWaiting, StatusCheckedIn}

type CompressionSuggestion struct {
	ReductionMinutes int    `json:"reduction_minutes"`
	PotentialMinutes int    `json:"potential_recovery_minutes"`
	Message          string `json:"message"`
}

// DriftReport describes how far a practitioner is behind schedule.
type DriftReport struct {
	PractitionerID    uuid.UUID              `json:"practitioner_id"`
	DriftMinutes      float64                `json:"drift_minutes"`
	IsBehind          bool                   `json:"is_behind"`
	ShouldCompress    bool                   `json:"should_compress"`
	RemainingCount    int                    `json:"remaining_appointments"`
	NextAppointmentID *uuid.UUID             `json:"next_appointment_id,omitempty"`
	NextScheduled     *time.Time             `json:"next_scheduled,omitempty"`
	Suggestion        *CompressionSuggestion `json:"compression_suggestion,omitempty"`
	Message           string                 `json:"message,omitempty"`
}

// computeDrift measures now against the earliest timed pending appointment.
func computeDrift(appts []Appointment, now time.Time, threshold, step time.Duration) DriftReport {
	var report DriftReport
	var next *Appointment
	for i := range appts {
		a := &appts[i]
		if !a.Status.in(pendingStatuses) {
			continue
		}
		report.RemainingCount++
		if a.Start == nil {
			continue
		}
		if next == nil || a.Start.Before(*next.Start) {
			next = a
		}
	}

	if next == nil {
		report.RemainingCount = 0
		report.Message = "nothing pending"
		return report
	}

	drift := now.Sub(*next.Start)
	report.DriftMinutes = math.Round(drift.Minutes()*10) / 10
	report.IsBehind = drift > 0
	report.NextAppointmentID = &next.ID
	report.NextScheduled = next.Start

	if drift > threshold {
		stepMin := int(step / time.Minute)
		report.ShouldCompress = true
		report.Suggestion = &CompressionSuggestion{
			ReductionMinutes: stepMin,
			PotentialMinutes: report.RemainingCount * stepMin,
			Message: fmt.Sprintf("running %d min late: shorten the %d remaining appointments by %d min each",
				int(math.Round(drift.Minutes())), report.RemainingCount, stepMin),
		}
	}
	return report
}

// DetectDrift reports the practitioner's lateness for today. It is read-only.
func (s *Service) DetectDrift(ctx context.Context, practitionerID uuid.UUID, now time.Time) (*DriftReport, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.detect_drift")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: practitionerID,
		Date:           s.today(now),
		Statuses:       pendingStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("load pending appointments: %w", err)
	}

	report := computeDrift(appts, now, s.cfg.DriftThreshold, s.cfg.CompressionStep)
	report.PractitionerID = practitionerID
	return &report, nil
}

// CompressionMove is the before/after of one compressed appointment.
type CompressionMove struct {
	AppointmentID uuid.UUID     `json:"appointment_id"`
	OldStart      time.Time     `json:"old_start"`
	NewStart      time.Time     `json:"new_start"`
	OldDuration   time.Duration `json:"old_duration"`
	NewDuration   time.Duration `json:"new_duration"`
	Promoted      bool          `json:"promoted,omitempty"`
}

type CompressionResult struct {
	PractitionerID   uuid.UUID         `json:"practitioner_id"`
	CompressedCount  int               `json:"compressed_count"`
	RecoveredMinutes int               `json:"total_recovery_minutes"`
	Moves            []CompressionMove `json:"modified_appointments"`
}

// planCompression pulls each future confirmed or waiting anchor earlier by
// i*step, where i counts future anchors in scheduled order, and shortens it by
// step. A move is dropped when the new start would not be after now, would
// land on the start of a checked-in holder, or when the shortened visit would
// overlap a confirmed or waiting visit that stays put, including anchors
// processed earlier in their final place. Checked-in patients are queued, so
// like availability checks their slot time blocks only its exact start.
// Shadows ride along with their holder and are returned after it. A shadow
// whose holder left moves on its own and is promoted.
func planCompression(appts []Appointment, now time.Time, step time.Duration) []CompressionMove {
	type interval struct{ start, end time.Time }

	var anchors []*Appointment
	var placed []interval
	held := make(map[int64]bool)
	for _, a := range slotAnchors(appts) {
		switch {
		case a.Status.in(occupyingStatuses) && a.Start.After(now):
			anchors = append(anchors, a)
		case a.Status.in(occupyingStatuses):
			placed = append(placed, interval{*a.Start, a.End()})
		default:
			held[a.Start.UnixNano()] = true
		}
	}
	slices.SortFunc(anchors, func(a, b *Appointment) int { return a.Start.Compare(*b.Start) })

	clashes := func(start, end time.Time) bool {
		if held[start.UnixNano()] {
			return true
		}
		for _, iv := range placed {
			if overlaps(iv.start, iv.end, start, end) {
				return true
			}
		}
		return false
	}

	var moves []CompressionMove
	var cumulative time.Duration
	for _, h := range anchors {
		cumulative += step
		newStart := h.Start.Add(-cumulative)
		newDur := max(h.duration()-step, minCompressedDuration)
		if !newStart.After(now) || clashes(newStart, newStart.Add(newDur)) {
			placed = append(placed, interval{*h.Start, h.End()})
			continue
		}
		placed = append(placed, interval{newStart, newStart.Add(newDur)})

		moves = append(moves, CompressionMove{
			AppointmentID: h.ID,
			OldStart:      *h.Start,
			NewStart:      newStart,
			OldDuration:   h.duration(),
			NewDuration:   newDur,
			Promoted:      h.IsShadowSlot,
		})
		for _, sh := range ridersOf(appts, h) {
			moves = append(moves, CompressionMove{
				AppointmentID: sh.ID,
				OldStart:      *sh.Start,
				NewStart:      newStart,
				OldDuration:   sh.duration(),
				NewDuration:   newDur,
			})
		}
	}
	return moves
}

// ApplyCompression pulls today's remaining appointments earlier by a growing
// multiple of step. A zero step uses the configured compression step.
func (s *Service) ApplyCompression(ctx context.Context, practitionerID uuid.UUID, step time.Duration, now time.Time) (*CompressionResult, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.apply_compression")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	if step <= 0 {
		step = s.cfg.CompressionStep
	}

	result := &CompressionResult{PractitionerID: practitionerID}
	err := s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		appts, err := tx.ListAppointments(ctx, AppointmentFilter{
			PractitionerID: practitionerID,
			Date:           s.today(now),
			Statuses:       slotHoldingStatuses,
		})
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}

		byID := make(map[uuid.UUID]*Appointment, len(appts))
		for i := range appts {
			byID[appts[i].ID] = &appts[i]
		}

		for _, m := range planCompression(appts, now, step) {
			a := byID[m.AppointmentID]
			a.Start = timePtr(m.NewStart)
			a.Duration = m.NewDuration
			a.UpdatedAt = now
			if m.Promoted {
				a.IsShadowSlot = false
			}
			if err := tx.SaveAppointment(ctx, a); err != nil {
				return fmt.Errorf("save compressed appointment %s: %w", a.ID, err)
			}
			s.logEvent(ctx, tx, a.ID, EventAppointmentCompressed, map[string]any{
				"old_start":    m.OldStart,
				"new_start":    m.NewStart,
				"old_duration": m.OldDuration.Minutes(),
				"new_duration": m.NewDuration.Minutes(),
			})
			result.Moves = append(result.Moves, m)
			if !a.IsShadowSlot {
				result.CompressedCount++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.RecoveredMinutes = result.CompressedCount * int(step/time.Minute)
	s.metrics.AddCompressed(result.CompressedCount)
	s.logger.Info("schedule compressed",
		"practitioner_id", practitionerID, "compressed", result.CompressedCount, "step", step)
	return result, nil
}
