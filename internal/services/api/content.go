package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drivebags/drivebags-go/internal/components/api"
	"github.com/drivebags/drivebags-go/internal/components/chat"
	"github.com/drivebags/drivebags-go/internal/components/storage"
)

type filesResponse struct {
	Files []storage.File `json:"files"`
}

func (s *Service) listFiles(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	files, err := s.d.Files.List(r.Context(), chi.URLParam(r, "bagId"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, filesResponse{Files: nonNil(files)})
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	FileID      string `json:"fileId"`
	WebViewLink string `json:"webViewLink,omitempty"`
}

// uploadProxy streams the raw request body into the bag folder.
func (s *Service) uploadProxy(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	q := r.URL.Query()
	if r.ContentLength == 0 {
		api.WriteBadRequest(w, api.ReasonMissingField, "No file body")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.conf.MaxUploadMB<<20)
	f, err := s.d.Files.Upload(r.Context(), q.Get("bagId"), p, q.Get("filename"), q.Get("mimeType"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.ReasonInvalidField, "File too large")
			return
		}
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, uploadResponse{Success: true, FileID: f.ID, WebViewLink: f.WebViewLink})
}

type messagesResponse struct {
	Messages []*chat.Message `json:"messages"`
}

func (s *Service) listChat(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	msgs, err := s.d.Chat.List(r.Context(), chi.URLParam(r, "bagId"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, messagesResponse{Messages: nonNil(msgs)})
}

type postChatRequest struct {
	Text string `json:"text"`
}

type postChatResponse struct {
	Success   bool      `json:"success"`
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Service) postChat(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	var req postChatRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	m, err := s.d.Chat.Post(r.Context(), chi.URLParam(r, "bagId"), p, req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, postChatResponse{
		Success:   true,
		ID:        m.ID,
		Text:      m.Text,
		UID:       m.UID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	})
}

type syncResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

func (s *Service) syncChat(w http.ResponseWriter, r *http.Request) {
	p, found := caller(w, r)
	if !found {
		return
	}
	n, err := s.d.Chat.Sync(r.Context(), chi.URLParam(r, "bagId"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, syncResponse{Success: true, Count: n})
}
