package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
	redisclient "github.com/hackgods/clinic-smartflow/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	return parseUUID(w, chi.URLParam(r, param), param)
}

func parseDate(w http.ResponseWriter, raw, field string, loc *time.Location) (time.Time, bool) {
	d, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a YYYY-MM-DD date")
		return time.Time{}, false
	}
	return d, true
}

// writeServiceError maps engine sentinels to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrConsultationTypeNotFound):
		writeError(w, http.StatusNotFound, "consultation_type_not_found", err.Error())

	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot is taken, pick another time")
	case errors.Is(err, appointment.ErrNoAvailableSlot):
		writeError(w, http.StatusConflict, "no_available_slot", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrPractitionerBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "practitioner_busy", "schedule is being updated, please retry shortly")

	case errors.Is(err, appointment.ErrOutOfWorkingHours):
		writeError(w, http.StatusUnprocessableEntity, "out_of_working_hours", err.Error())
	case errors.Is(err, appointment.ErrSlotInPast):
		writeError(w, http.StatusUnprocessableEntity, "slot_in_past", err.Error())
	case errors.Is(err, appointment.ErrPatientBlocked):
		writeError(w, http.StatusUnprocessableEntity, "patient_blocked", err.Error())
	case errors.Is(err, appointment.ErrInvalidUrgency):
		writeError(w, http.StatusUnprocessableEntity, "invalid_urgency", err.Error())
	case errors.Is(err, appointment.ErrNotScheduled):
		writeError(w, http.StatusUnprocessableEntity, "not_scheduled", err.Error())
	case errors.Is(err, appointment.ErrInvalidEventKind):
		writeError(w, http.StatusUnprocessableEntity, "invalid_event_kind", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
