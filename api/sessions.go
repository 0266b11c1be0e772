package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type startSessionRequest struct {
	MilestoneIndex int `json:"milestone_index"`
}

type endSessionRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Start(r.Context(), chi.URLParam(r, "id"), caller(r), req.MilestoneIndex)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.End(r.Context(), chi.URLParam(r, "id"), caller(r), req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	items, err := s.sessions.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	items, err := s.credentials.ListForHolder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	v, err := s.credentials.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
