package server

import (
	"net/http"

	"github.com/n0madic/go-mnmlgate/internal/codec"
	"github.com/n0madic/go-mnmlgate/internal/history"
)

type historySaveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

type historyDeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// handleHistorySave handles POST /image-history/save.
func (s *Server) handleHistorySave(w http.ResponseWriter, r *http.Request) {
	var req history.SaveRequest
	if err := readJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	id, err := s.History.Save(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, historySaveResponse{Success: true, ID: id})
}

// handleHistoryGet handles POST /image-history/get.
func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserEmail string `json:"userEmail"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	entries, err := s.History.List(r.Context(), req.UserEmail)
	if err != nil {
		writeFailure(w, err)
		return
	}
	codec.WriteSuccess(w, entries)
}

// handleHistoryDelete handles POST /image-history/delete.
func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.History.Delete(r.Context(), req.ID); err != nil {
		writeFailure(w, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, historyDeleteResponse{
		Success: true,
		Message: "Image history deleted successfully",
		ID:      req.ID,
	})
}
