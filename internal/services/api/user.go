package api

import (
	"net/http"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/notifications"
)

type notificationsResponse struct {
	Notifications []*notifications.Notification `json:"notifications"`
}

func (s *Service) listNotifications(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	list, err := s.d.Notifications.List(r.Context(), p.UID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, notificationsResponse{Notifications: nonNil(list)})
}

type markReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

type markReadResponse struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

func (s *Service) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req markReadRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if len(req.NotificationIDs) == 0 {
		api.WriteBadRequest(w, api.ReasonMissingField, "Invalid input")
		return
	}
	n, err := s.d.Notifications.MarkRead(r.Context(), p.UID, req.NotificationIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, markReadResponse{Success: true, Updated: n})
}
