package api

import (
	"net/http"

	"adoption-workflow/internal/models"

	"github.com/go-chi/chi/v5"
)

type notificationList struct {
	Notifications []models.Notification `json:"notifications"`
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	filter := models.NotificationFilter{
		Status: models.NotificationStatus(r.URL.Query().Get("status")),
		Type:   models.NotificationType(r.URL.Query().Get("type")),
		Limit:  limit,
	}

	out, err := h.svc.ListNotifications(r.Context(), caller(r), filter)
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	if out == nil {
		out = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationList{Notifications: out})
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *handler) dismiss(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Dismiss(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
