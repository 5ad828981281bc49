package appointment

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// QueueEntry is one position in a practitioner's live queue.
type QueueEntry struct {
	Position      int         `json:"position"`
	AppointmentID uuid.UUID   `json:"appointment_id"`
	PatientID     uuid.UUID   `json:"patient_id"`
	PatientName   string      `json:"patient_name"`
	Score         float64     `json:"priority_score"`
	UrgencyLevel  int         `json:"urgency_level"`
	Status        Status      `json:"status"`
	IsShadowSlot  bool        `json:"is_shadow"`
	BookingType   BookingType `json:"booking_type"`
	Start         *time.Time  `json:"scheduled_at,omitempty"`
}

// priorOrder is the order the queue had before scoring: assigned numbers
// first, then scheduled time, then creation.
func priorOrder(a, b *Appointment) int {
	switch {
	case a.QueueNumber != nil && b.QueueNumber == nil:
		return -1
	case a.QueueNumber == nil && b.QueueNumber != nil:
		return 1
	case a.QueueNumber != nil && b.QueueNumber != nil && *a.QueueNumber != *b.QueueNumber:
		return cmp.Compare(*a.QueueNumber, *b.QueueNumber)
	}
	switch {
	case a.Start != nil && b.Start == nil:
		return -1
	case a.Start == nil && b.Start != nil:
		return 1
	case a.Start != nil && b.Start != nil && !a.Start.Equal(*b.Start):
		return a.Start.Compare(*b.Start)
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return slices.Compare(a.ID[:], b.ID[:])
}

// rankQueue orders appts by descending priority. Equal scores keep their
// prior relative order, so ranking unchanged data twice gives the same result.
func rankQueue(appts []Appointment, patients map[uuid.UUID]*Patient) []QueueEntry {
	ordered := make([]*Appointment, len(appts))
	for i := range appts {
		ordered[i] = &appts[i]
	}
	slices.SortFunc(ordered, priorOrder)

	scores := make(map[uuid.UUID]float64, len(ordered))
	for _, a := range ordered {
		scores[a.ID] = PriorityScore(a, patients[a.PatientID])
	}
	slices.SortStableFunc(ordered, func(a, b *Appointment) int {
		return cmp.Compare(scores[b.ID], scores[a.ID])
	})

	entries := make([]QueueEntry, 0, len(ordered))
	for i, a := range ordered {
		e := QueueEntry{
			Position:      i + 1,
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			Score:         scores[a.ID],
			UrgencyLevel:  a.UrgencyLevel,
			Status:        a.Status,
			IsShadowSlot:  a.IsShadowSlot,
			BookingType:   a.BookingType,
			Start:         a.Start,
		}
		if p := patients[a.PatientID]; p != nil {
			e.PatientName = p.Name
		}
		entries = append(entries, e)
	}
	return entries
}

// ReorderQueue scores today's waiting and checked-in appointments and
// renumbers them 1..N by descending priority.
func (s *Service) ReorderQueue(ctx context.Context, practitionerID uuid.UUID, now time.Time) ([]QueueEntry, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.reorder_queue")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	var entries []QueueEntry
	err := s.mutate(ctx, practitionerID, func(ctx context.Context, tx Repository) error {
		var err error
		entries, err = s.reorderTx(ctx, tx, practitionerID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) reorderTx(ctx context.Context, tx Repository, practitionerID uuid.UUID, now time.Time) ([]QueueEntry, error) {
	appts, err := tx.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: practitionerID,
		Date:           s.today(now),
		Statuses:       queueStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	patients, err := s.patientsFor(ctx, tx, appts)
	if err != nil {
		return nil, err
	}

	entries := rankQueue(appts, patients)

	byID := make(map[uuid.UUID]*Appointment, len(appts))
	for i := range appts {
		byID[appts[i].ID] = &appts[i]
	}

	changed := 0
	for _, e := range entries {
		a := byID[e.AppointmentID]
		if a.QueueNumber != nil && *a.QueueNumber == e.Position {
			continue
		}
		previous := a.QueueNumber
		a.QueueNumber = intPtr(e.Position)
		a.UpdatedAt = now
		if err := tx.SaveAppointment(ctx, a); err != nil {
			return nil, fmt.Errorf("save queue number: %w", err)
		}
		s.logEvent(ctx, tx, a.ID, EventQueueReordered, map[string]any{
			"previous_number": previous,
			"queue_number":    e.Position,
			"priority_score":  e.Score,
		})
		changed++
	}

	if changed > 0 {
		s.logger.Debug("queue reordered",
			"practitioner_id", practitionerID, "size", len(entries), "renumbered", changed)
	}
	s.metrics.ObserveQueueSize(len(entries))
	return entries, nil
}

// patientsFor loads every distinct patient referenced by appts.
func (s *Service) patientsFor(ctx context.Context, repo Repository, appts []Appointment) (map[uuid.UUID]*Patient, error) {
	patients := make(map[uuid.UUID]*Patient, len(appts))
	for i := range appts {
		id := appts[i].PatientID
		if _, ok := patients[id]; ok {
			continue
		}
		p, err := s.loadPatient(ctx, repo, id)
		if err != nil {
			return nil, err
		}
		patients[id] = p
	}
	return patients, nil
}
