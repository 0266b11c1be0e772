package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"escrowflow/dispute"
)

type assignRequest struct {
	Arbitrators []string `json:"arbitrators"`
}

type voteRequest struct {
	FavorsClient *bool  `json:"favors_client"`
	Reasoning    string `json:"reasoning"`
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req dispute.OpenParams
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ContractID = chi.URLParam(r, "id")
	req.Initiator = caller(r)

	d, err := s.disputes.Open(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	items, err := s.disputes.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAssignArbitrators(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, _ := identityFrom(r.Context())
	d, err := s.disputes.AssignArbitrators(r.Context(), dispute.AssignParams{
		DisputeID:    chi.URLParam(r, "id"),
		ActorID:      id.UserID,
		ActorIsAdmin: id.IsAdmin(),
		Arbitrators:  req.Arbitrators,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.FavorsClient == nil {
		writeErrorMessage(w, http.StatusBadRequest, "favors_client is required")
		return
	}
	d, err := s.disputes.SubmitVote(r.Context(), chi.URLParam(r, "id"), caller(r), *req.FavorsClient, req.Reasoning)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
