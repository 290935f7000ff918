package api

import (
	"net/http"

	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"

	"github.com/go-chi/chi/v5"
)

type rescheduleRequest struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status       models.InterviewStatus `json:"status"`
	ShelterNotes string                 `json:"shelterNotes"`
}

type respondRequest struct {
	Accepted *bool  `json:"accepted"`
	Notes    string `json:"notes"`
}

func (h *handler) availability(w http.ResponseWriter, r *http.Request) {
	duration, err := queryInt(r, "duration")
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	if duration == 0 {
		duration = models.DefaultInterviewDuration
	}

	shelterID := chi.URLParam(r, "shelterId")
	a, err := h.svc.GetAvailability(r.Context(), shelterID, r.URL.Query().Get("date"), duration)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	if !caller(r).ManagesShelter(shelterID) {
		a = a.Redacted()
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	iv, err := h.svc.Reschedule(r.Context(), caller(r), chi.URLParam(r, "id"), req.Date, req.Time, req.Notes)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	iv, err := h.svc.Cancel(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	iv, err := h.svc.UpdateStatus(r.Context(), caller(r), chi.URLParam(r, "id"), req.Status, req.ShelterNotes)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	if req.Accepted == nil {
		h.errors.WriteHTTP(w, r, errors.NewBadRequestError("accepted is required"))
		return
	}
	iv, err := h.svc.Respond(r.Context(), caller(r), chi.URLParam(r, "id"), *req.Accepted, req.Notes)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}
