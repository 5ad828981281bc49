package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Alert struct {
	Level         string     `json:"level"`
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	Action        string     `json:"action"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type QueueStatistics struct {
	TotalToday           int            `json:"total_today"`
	ByStatus             map[Status]int `json:"by_status"`
	WaitingCount         int            `json:"waiting_count"`
	EstimatedWaitMinutes int            `json:"estimated_wait_minutes"`
}

// QueueSnapshot is everything a practitioner's dashboard shows at once.
type QueueSnapshot struct {
	PractitionerID   uuid.UUID            `json:"practitioner_id"`
	Timestamp        time.Time            `json:"timestamp"`
	Statistics       QueueStatistics      `json:"statistics"`
	Queue            []QueueEntry         `json:"ordered_queue"`
	Drift            *DriftReport         `json:"drift"`
	SuspectedNoShows []OverdueAppointment `json:"suspected_no_shows"`
	Alerts           []Alert              `json:"alerts"`
}

func countByStatus(appts []Appointment) map[Status]int {
	counts := make(map[Status]int, len(allStatuses))
	for _, st := range allStatuses {
		counts[st] = 0
	}
	for i := range appts {
		counts[appts[i].Status]++
	}
	return counts
}

func buildAlerts(drift *DriftReport, overdue []OverdueAppointment, waiting, longQueue int) []Alert {
	alerts := []Alert{}
	if drift != nil && drift.ShouldCompress {
		alerts = append(alerts, Alert{
			Level:   "warning",
			Type:    "drift",
			Message: fmt.Sprintf("running %.0f min late, compression recommended", drift.DriftMinutes),
			Action:  "compress",
		})
	}
	for i := range overdue {
		o := overdue[i]
		name := o.PatientName
		if name == "" {
			name = "patient"
		}
		alerts = append(alerts, Alert{
			Level:         "info",
			Type:          "no_show",
			Message:       fmt.Sprintf("%s not present (%d min overdue)", name, o.MinutesOverdue),
			Action:        "call_or_skip",
			AppointmentID: &o.AppointmentID,
		})
	}
	if waiting > longQueue {
		alerts = append(alerts, Alert{
			Level:   "warning",
			Type:    "queue_long",
			Message: fmt.Sprintf("%d patients waiting", waiting),
			Action:  "none",
		})
	}
	return alerts
}

// QueueStatus refreshes the practitioner's dashboard: the watchdog runs,
// the queue is reordered and drift is measured.
func (s *Service) QueueStatus(ctx context.Context, practitionerID uuid.UUID, now time.Time) (*QueueSnapshot, error) {
	ctx, span := engineTracer.Start(ctx, "appointment.queue_status")
	defer span.End()
	span.SetAttributes(practitionerAttr(practitionerID))

	queue, err := s.ReorderQueue(ctx, practitionerID, now)
	if err != nil {
		return nil, err
	}
	drift, err := s.DetectDrift(ctx, practitionerID, now)
	if err != nil {
		return nil, err
	}
	overdue, err := s.DetectOverdue(ctx, practitionerID, now)
	if err != nil {
		return nil, err
	}

	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{
		PractitionerID: practitionerID,
		Date:           s.today(now),
	})
	if err != nil {
		return nil, fmt.Errorf("load today's appointments: %w", err)
	}

	counts := countByStatus(appts)
	waiting := counts[StatusWaiting] + counts[StatusCheckedIn]

	if overdue == nil {
		overdue = []OverdueAppointment{}
	}
	return &QueueSnapshot{
		PractitionerID: practitionerID,
		Timestamp:      now,
		Statistics: QueueStatistics{
			TotalToday:           len(appts),
			ByStatus:             counts,
			WaitingCount:         waiting,
			EstimatedWaitMinutes: waiting * s.cfg.MinutesPerWaitingPatient,
		},
		Queue:            queue,
		Drift:            drift,
		SuspectedNoShows: overdue,
		Alerts:           buildAlerts(drift, overdue, waiting, s.cfg.LongQueueThreshold),
	}, nil
}
