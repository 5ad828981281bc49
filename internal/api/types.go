package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
)

type BookSlotRequest struct {
	PatientID          string    `json:"patient_id"`
	PractitionerID     string    `json:"practitioner_id"`
	Start              time.Time `json:"start"`
	ConsultationTypeID *string   `json:"consultation_type_id,omitempty"`
	UrgencyLevel       int       `json:"urgency_level"`
}

type WalkInRequest struct {
	PatientID      string `json:"patient_id"`
	PractitionerID string `json:"practitioner_id"`
	UrgencyLevel   int    `json:"urgency_level"`
}

type RestoreNoShowRequest struct {
	Reason string `json:"reason"`
}

type ReliabilityEventRequest struct {
	Event string `json:"event"`
}

type CompressRequest struct {
	StepMinutes int `json:"step_minutes"`
}

type ShiftRequest struct {
	DeltaMinutes int `json:"delta_minutes"`
}

type CancelRangeRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	PractitionerID  uuid.UUID  `json:"practitioner_id"`
	Date            string     `json:"date"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	QueueNumber     *int       `json:"queue_number,omitempty"`
	UrgencyLevel    int        `json:"urgency_level"`
	IsShadowSlot    bool       `json:"is_shadow_slot"`
	BookingType     string     `json:"booking_type"`
	ArrivalTime     *time.Time `json:"arrival_time,omitempty"`
	CheckInTime     *time.Time `json:"check_in_time,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PractitionerID:  a.PractitionerID,
		Date:            a.Date.Format(time.DateOnly),
		StartTime:       a.Start,
		DurationMinutes: int(a.Duration / time.Minute),
		Status:          string(a.Status),
		QueueNumber:     a.QueueNumber,
		UrgencyLevel:    a.UrgencyLevel,
		IsShadowSlot:    a.IsShadowSlot,
		BookingType:     string(a.BookingType),
		ArrivalTime:     a.ArrivalTime,
		CheckInTime:     a.CheckInTime,
	}
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Shadow      bool                `json:"shadow"`
}

type ResolutionResponse struct {
	Outcome     string      `json:"outcome"`
	QueueNumber *int        `json:"queue_number,omitempty"`
	Demoted     []uuid.UUID `json:"demoted,omitempty"`
}

func toResolutionResponse(r *appointment.ShadowResolution) *ResolutionResponse {
	if r == nil {
		return nil
	}
	return &ResolutionResponse{
		Outcome:     string(r.Outcome),
		QueueNumber: r.QueueNumber,
		Demoted:     r.Demoted,
	}
}

type CheckInResponse struct {
	Appointment      AppointmentResponse      `json:"appointment"`
	Resolution       *ResolutionResponse      `json:"resolution"`
	ReliabilityEvent string                   `json:"reliability_event,omitempty"`
	ReliabilityScore *float64                 `json:"reliability_score,omitempty"`
	Queue            []appointment.QueueEntry `json:"queue"`
}

type CallNextResponse struct {
	Completed *uuid.UUID           `json:"completed,omitempty"`
	Called    *AppointmentResponse `json:"called,omitempty"`
}

type ScoreResponse struct {
	PatientID        uuid.UUID `json:"patient_id"`
	ReliabilityScore float64   `json:"reliability_score"`
}

type ShadowEligibilityResponse struct {
	Eligible bool `json:"eligible"`
}

type NextSlotResponse struct {
	Start time.Time `json:"start"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
