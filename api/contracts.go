package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"escrowflow/contract"
)

type fundRequest struct {
	Amount int64 `json:"amount"`
}

type deliverableRequest struct {
	ContentRef string `json:"content_ref"`
	Name       string `json:"name"`
	Note       string `json:"note"`
}

type revisionRequest struct {
	Reason string `json:"reason"`
}

func caller(r *http.Request) string {
	id, _ := identityFrom(r.Context())
	return id.UserID
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req contract.CreateParams
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Client = caller(r)
	req.ID = strings.TrimSpace(req.ID)

	c, err := s.contracts.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 50, contract.MaxListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.contracts.List(r.Context(), caller(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.contracts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.Fund(r.Context(), chi.URLParam(r, "id"), caller(r), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSignNDA(w http.ResponseWriter, r *http.Request) {
	c, err := s.contracts.SignNDA(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSubmitDeliverable(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req deliverableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.SubmitDeliverable(r.Context(), chi.URLParam(r, "id"), caller(r), index, contract.Deliverable{
		ContentRef: req.ContentRef,
		Name:       req.Name,
		Note:       req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRequestRevision(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req revisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.RequestRevision(r.Context(), chi.URLParam(r, "id"), caller(r), index, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleApproveMilestone(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.ApproveMilestone(r.Context(), chi.URLParam(r, "id"), caller(r), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	view, err := s.contracts.Escrow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.contracts.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(events))
}
