package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/invitations"
	"github.com/drivebags/drivebags-go/internal/components/requests"
)

type inviteResponse struct {
	Success    bool                     `json:"success"`
	Invitation *invitations.Invitation `json:"invitation"`
}

func (s *Service) invite(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req emailRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	inv, err := s.d.Invitations.Invite(r.Context(), chi.URLParam(r, "bagId"), p, req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inviteResponse{Success: true, Invitation: inv})
}

type cancelInviteRequest struct {
	InviteID string `json:"inviteId"`
}

func (s *Service) cancelInvite(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req cancelInviteRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.InviteID == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "Invite ID required")
		return
	}
	if err := s.d.Invitations.Cancel(r.Context(), chi.URLParam(r, "bagId"), req.InviteID, p); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

type invitesResponse struct {
	Invites []*invitations.Invitation `json:"invites"`
}

func (s *Service) listBagInvites(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	invites, err := s.d.Invitations.ListForBag(r.Context(), chi.URLParam(r, "bagId"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, invitesResponse{Invites: nonNil(invites)})
}

type respondRequest struct {
	InviteID string `json:"inviteId"`
	Decision string `json:"decision"`
}

func (s *Service) respondInvite(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req respondRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.InviteID == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "Invite ID required")
		return
	}
	if _, err := s.d.Invitations.Respond(r.Context(), req.InviteID, p, invitations.Decision(req.Decision)); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

func (s *Service) listUserInvites(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	invites, err := s.d.Invitations.ListForUser(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, invitesResponse{Invites: nonNil(invites)})
}

func (s *Service) fileRequest(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	if _, err := s.d.Requests.Request(r.Context(), chi.URLParam(r, "bagId"), p); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

type bagRequestsResponse struct {
	Requests []*requests.AccessRequest `json:"requests"`
}

func (s *Service) listBagRequests(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	reqs, err := s.d.Requests.ListForBag(r.Context(), chi.URLParam(r, "bagId"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, bagRequestsResponse{Requests: nonNil(reqs)})
}

// decisionRequest carries the requester's uid in RequestID.
type decisionRequest struct {
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"`
}

func (s *Service) decideRequest(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req decisionRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	err := s.d.Requests.Decide(r.Context(), chi.URLParam(r, "bagId"), p, req.RequestID, requests.Decision(req.Decision))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

type userRequestsResponse struct {
	Requests []requests.UserRequest `json:"requests"`
}

func (s *Service) listUserRequests(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	reqs, err := s.d.Requests.ListForUser(r.Context(), p.UID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, userRequestsResponse{Requests: nonNil(reqs)})
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
