package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
)

// Clock supplies the engine's notion of now. Tests pin it.
type Clock func() time.Time

func bookSlotHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		patientID, ok := parseUUID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		practitionerID, ok := parseUUID(w, req.PractitionerID, "practitioner_id")
		if !ok {
			return
		}
		if req.Start.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
			return
		}

		book := appointment.BookRequest{
			PatientID:      patientID,
			PractitionerID: practitionerID,
			Start:          req.Start,
			UrgencyLevel:   req.UrgencyLevel,
		}
		if req.ConsultationTypeID != nil {
			typeID, ok := parseUUID(w, *req.ConsultationTypeID, "consultation_type_id")
			if !ok {
				return
			}
			book.ConsultationTypeID = &typeID
		}

		res, err := svc.BookSlot(r.Context(), book, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			Appointment: toAppointmentResponse(res.Appointment),
			Shadow:      res.Shadow,
		})
	}
}

func walkInHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WalkInRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		patientID, ok := parseUUID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		practitionerID, ok := parseUUID(w, req.PractitionerID, "practitioner_id")
		if !ok {
			return
		}

		appt, err := svc.BookWalkIn(r.Context(), patientID, practitionerID, req.UrgencyLevel, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func checkInHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		res, err := svc.CheckIn(r.Context(), id, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		queue := res.Queue
		if queue == nil {
			queue = []appointment.QueueEntry{}
		}
		writeJSON(w, http.StatusOK, CheckInResponse{
			Appointment:      toAppointmentResponse(res.Appointment),
			Resolution:       toResolutionResponse(res.Resolution),
			ReliabilityEvent: string(res.ReliabilityEvent),
			ReliabilityScore: res.ReliabilityScore,
			Queue:            queue,
		})
	}
}

func resolveConflictHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		res, err := svc.ResolveConflict(r.Context(), id, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResolutionResponse(res))
	}
}

func cancelHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.Cancel(r.Context(), id, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmNoShowHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		res, err := svc.ConfirmNoShow(r.Context(), id, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func restoreNoShowHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		var req RestoreNoShowRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		reason, err := appointment.ParseRestoreReason(req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		res, err := svc.RestoreNoShow(r.Context(), id, reason, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func reliabilityEventHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		var req ReliabilityEventRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ev, err := appointment.ParseReliabilityEvent(req.Event)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		score, err := svc.ApplyEvent(r.Context(), patientID, ev)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ScoreResponse{PatientID: patientID, ReliabilityScore: score})
	}
}

func shadowEligibilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		practitionerID, ok := parseUUID(w, q.Get("practitioner_id"), "practitioner_id")
		if !ok {
			return
		}
		start, err := time.Parse(time.RFC3339, q.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
			return
		}

		eligible, err := svc.ShouldShadow(r.Context(), patientID, practitionerID, start)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ShadowEligibilityResponse{Eligible: eligible})
	}
}
