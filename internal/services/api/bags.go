package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/bags"
	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/platform/appctx"
)

// successResponse is the body of mutating calls with nothing else to report.
type successResponse struct {
	Success bool `json:"success"`
}

var okResponse = successResponse{Success: true}

// caller returns the authenticated principal. The auth gate guarantees one
// on protected routes; a missing principal is answered with 401.
func caller(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, found := identity.PrincipalFromContext(r.Context())
	if !found {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Unauthorized")
	}
	return p, found
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	api.WriteDomainError(w, appctx.GetLogger(r.Context()), err)
}

type createBagRequest struct {
	Name          string   `json:"name"`
	AccessType    string   `json:"accessType"`
	InvitedEmails []string `json:"invitedEmails"`
}

type createBagResponse struct {
	BagID    string `json:"bagId"`
	FolderID string `json:"folderId"`
}

func (s *Service) createBag(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req createBagRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	bag, err := s.d.Bags.Create(r.Context(), p, bags.CreateInput{
		Name:          req.Name,
		AccessType:    req.AccessType,
		InvitedEmails: req.InvitedEmails,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, createBagResponse{BagID: bag.ID, FolderID: bag.FolderRef})
}

func (s *Service) listBags(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	dash, err := s.d.Bags.ListForUser(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, dash)
}

func (s *Service) getBag(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	bag, err := s.d.Bags.Get(r.Context(), chi.URLParam(r, "bagId"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, bag)
}

type updateBagRequest struct {
	Name       *string `json:"name"`
	AccessType *string `json:"accessType"`
}

func (s *Service) updateBag(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req updateBagRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if _, err := s.d.Bags.Update(r.Context(), chi.URLParam(r, "bagId"), p.UID, bags.UpdateInput{
		Name:       req.Name,
		AccessType: req.AccessType,
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

func (s *Service) deleteBag(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	if err := s.d.Bags.Delete(r.Context(), chi.URLParam(r, "bagId"), p.UID); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Service) shareBag(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req emailRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Bags.Share(r.Context(), chi.URLParam(r, "bagId"), p.UID, req.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

func (s *Service) leaveBag(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	if err := s.d.Bags.Leave(r.Context(), chi.URLParam(r, "bagId"), p); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}

func (s *Service) kickParticipant(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req emailRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.d.Bags.Kick(r.Context(), chi.URLParam(r, "bagId"), p, req.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, okResponse)
}
