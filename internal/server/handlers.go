package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleTriggerRun starts a planning run. An in-flight run coalesces
// the request instead of rejecting it.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Planner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Planner not available")
		return
	}

	started := s.cfg.Planner.TriggerRun(r.Context())

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"triggered": true,
		"coalesced": !started,
		"state":     string(s.cfg.Planner.State()),
	})
}

// handlePlanningStatus returns the last run's status plus the current
// run-machine state.
func (s *Server) handlePlanningStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Planner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Planner not available")
		return
	}

	response := map[string]interface{}{
		"state": string(s.cfg.Planner.State()),
	}
	if status := s.cfg.Planner.Status(); status != nil {
		response["status"] = status
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handlePlanningSequences returns the last successful run's output.
func (s *Server) handlePlanningSequences(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Planner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Planner not available")
		return
	}

	sequences := s.cfg.Planner.Sequences()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequences": sequences,
		"count":     len(sequences),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
