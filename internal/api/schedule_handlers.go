package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
)

// queryInt reads an optional integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func availableSlotsHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		current := now()

		from := current.In(svc.Location())
		if raw := r.URL.Query().Get("from"); raw != "" {
			if from, ok = parseDate(w, raw, "from", svc.Location()); !ok {
				return
			}
		}
		days, ok := queryInt(w, r, "days", 7)
		if !ok {
			return
		}
		minutes, ok := queryInt(w, r, "duration", 0)
		if !ok {
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), practitionerID, from, days, time.Duration(minutes)*time.Minute, current)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func nextFreeSlotHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		current := now()

		after := current
		if raw := r.URL.Query().Get("after"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_after", "after must be an RFC 3339 timestamp")
				return
			}
			after = t
		}
		minutes, ok := queryInt(w, r, "duration", 0)
		if !ok {
			return
		}

		start, err := svc.FindNextFreeSlot(r.Context(), practitionerID, after, time.Duration(minutes)*time.Minute, uuid.Nil, current)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NextSlotResponse{Start: start})
	}
}

func queueStatusHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		snap, err := svc.QueueStatus(r.Context(), practitionerID, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func reorderQueueHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		queue, err := svc.ReorderQueue(r.Context(), practitionerID, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if queue == nil {
			queue = []appointment.QueueEntry{}
		}
		writeJSON(w, http.StatusOK, queue)
	}
}

func callNextHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		res, err := svc.CallNext(r.Context(), practitionerID, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := CallNextResponse{Completed: res.Completed}
		if res.Called != nil {
			called := toAppointmentResponse(res.Called)
			resp.Called = &called
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func driftHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		report, err := svc.DetectDrift(r.Context(), practitionerID, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func compressHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		var req CompressRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		if req.StepMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid_step_minutes", "step_minutes must not be negative")
			return
		}

		res, err := svc.ApplyCompression(r.Context(), practitionerID, time.Duration(req.StepMinutes)*time.Minute, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func shiftHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		var req ShiftRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.DeltaMinutes == 0 {
			writeError(w, http.StatusBadRequest, "invalid_delta_minutes", "delta_minutes must not be zero")
			return
		}

		res, err := svc.Shift(r.Context(), practitionerID, time.Duration(req.DeltaMinutes)*time.Minute, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func detectOverdueHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		report, err := svc.DetectOverdue(r.Context(), practitionerID, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if report == nil {
			report = []appointment.OverdueAppointment{}
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func conflictCountHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		from, ok := parseDate(w, q.Get("from"), "from", svc.Location())
		if !ok {
			return
		}
		to, ok := parseDate(w, q.Get("to"), "to", svc.Location())
		if !ok {
			return
		}

		n, err := svc.CountConflicts(r.Context(), practitionerID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CountResponse{Count: n})
	}
}

func cancelRangeHandler(svc *appointment.Service, now Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}
		var req CancelRangeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		from, ok := parseDate(w, req.From, "from", svc.Location())
		if !ok {
			return
		}
		to, ok := parseDate(w, req.To, "to", svc.Location())
		if !ok {
			return
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "invalid_range", "to must not be before from")
			return
		}

		n, err := svc.CancelRange(r.Context(), practitionerID, from, to, req.Reason, now())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CountResponse{Count: n})
	}
}
