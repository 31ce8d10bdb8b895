package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/models"
)

// handleGetChart handles GET /api/v1/users/{userID}/chart/{period}.
func (s *Server) handleGetChart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userID"]
	period := models.Period(vars["period"])

	if userID == "" {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidParameter, "User ID required", nil)
		return
	}
	if !period.Valid() {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidParameter, "Unknown reporting period", map[string]interface{}{
			"period": string(period),
		})
		return
	}

	entry, err := s.charts.GetOrCompute(r.Context(), userID, period)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleGetLeaderboard handles GET /api/v1/leaderboard/{period}.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	period := models.Period(mux.Vars(r)["period"])
	if !period.Valid() {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidParameter, "Unknown reporting period", map[string]interface{}{
			"period": string(period),
		})
		return
	}

	entry, err := s.leaderboards.Get(r.Context(), period)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleRegenerate handles POST /api/v1/admin/regenerate.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	summary, err := s.regenerator.ForceRegenerate(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
