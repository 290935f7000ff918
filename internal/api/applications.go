package api

import (
	"net/http"

	"adoption-workflow/internal/adoption"
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"

	"github.com/go-chi/chi/v5"
)

type applicationRequest struct {
	PetID   string                 `json:"petId"`
	Details map[string]interface{} `json:"details"`
}

type reviewRequest struct {
	Status models.ApplicationStatus `json:"status"`
	Notes  string                   `json:"notes"`
}

type applicationList struct {
	Applications []models.Application `json:"applications"`
}

type interviewList struct {
	Interviews []models.Interview `json:"interviews"`
}

func (h *handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	app, err := h.svc.CreateDraft(r.Context(), caller(r), req.PetID, req.Details)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	app, err := h.svc.SaveDraft(r.Context(), caller(r), chi.URLParam(r, "id"), req.Details)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	app, err := h.svc.SubmitApplication(r.Context(), caller(r), req.PetID, req.Details)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *handler) submitDraft(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.Submit(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.Withdraw(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handler) review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	app, err := h.svc.Review(r.Context(), caller(r), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.GetApplication(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ApplicationFilter{PetID: q.Get("petId")}
	if raw := q.Get("status"); raw != "" {
		status, ok := models.ParseApplicationStatus(raw)
		if !ok {
			h.errors.WriteHTTP(w, r, errors.NewBadRequestError("unknown status "+raw))
			return
		}
		filter.Status = status
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	filter.Limit = limit

	apps, err := h.svc.ListApplications(r.Context(), caller(r), filter)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	if apps == nil {
		apps = []models.Application{}
	}
	writeJSON(w, http.StatusOK, applicationList{Applications: apps})
}

func (h *handler) listInterviews(w http.ResponseWriter, r *http.Request) {
	ivs, err := h.svc.ListInterviews(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	if ivs == nil {
		ivs = []models.Interview{}
	}
	writeJSON(w, http.StatusOK, interviewList{Interviews: ivs})
}

func (h *handler) schedule(w http.ResponseWriter, r *http.Request) {
	var req adoption.ScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	req.ApplicationID = chi.URLParam(r, "id")

	iv, err := h.svc.Schedule(r.Context(), caller(r), req)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, iv)
}
