// Package handlers provides HTTP handlers for allocation target management.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SnapshotProvider supplies the current portfolio state for allocation views.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Securities(ctx context.Context) (map[string]domain.Security, error)
}

// Handler handles allocation HTTP requests
type Handler struct {
	allocRepo   *allocation.Repository
	snapshots   SnapshotProvider
	broadcaster *events.Broadcaster
	log         zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(
	allocRepo *allocation.Repository,
	snapshots SnapshotProvider,
	broadcaster *events.Broadcaster,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		allocRepo:   allocRepo,
		snapshots:   snapshots,
		broadcaster: broadcaster,
		log:         log.With().Str("handler", "allocation").Logger(),
	}
}

// HandleGetTargets returns allocation targets for country and industry groups
func (h *Handler) HandleGetTargets(w http.ResponseWriter, r *http.Request) {
	countryTargets, err := h.allocRepo.Targets(domain.GroupTypeCountry)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	industryTargets, err := h.allocRepo.Targets(domain.GroupTypeIndustry)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"country":  countryTargets,
		"industry": industryTargets,
	})
}

// HandleUpdateTargets creates or updates targets for a group type.
// Accepts a {"targets": {name: weight}} body; weights must be in [0, 1].
func (h *Handler) HandleUpdateTargets(w http.ResponseWriter, r *http.Request) {
	groupType, ok := h.resolveGroupType(w, r)
	if !ok {
		return
	}

	var req struct {
		Targets map[string]float64 `json:"targets"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Targets) == 0 {
		h.writeError(w, http.StatusBadRequest, "No weights provided")
		return
	}

	for groupName, groupWeight := range req.Targets {
		if strings.TrimSpace(groupName) == "" {
			h.writeError(w, http.StatusBadRequest, "Group name is required")
			return
		}
		if groupWeight < 0 || groupWeight > 1 {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Weight for %s must be between 0 and 1", groupName))
			return
		}

		target := allocation.AllocationTarget{
			Type:      groupType,
			Name:      strings.TrimSpace(groupName),
			TargetPct: groupWeight,
		}

		if err := h.allocRepo.Upsert(target); err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	resultTargets, err := h.allocRepo.Targets(groupType)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.Emit(events.AllocationTargetsChanged, "allocation", map[string]interface{}{
			"type":  groupType,
			"count": len(resultTargets),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"weights": resultTargets,
		"count":   len(resultTargets),
	})
}

// HandleDeleteTarget removes a single allocation target
func (h *Handler) HandleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	groupType, ok := h.resolveGroupType(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "Group name is required")
		return
	}

	if err := h.allocRepo.Delete(groupType, name); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.Emit(events.AllocationTargetsChanged, "allocation", map[string]interface{}{
			"type":    groupType,
			"deleted": name,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": name,
	})
}

// HandleGetGroupAllocation returns current allocation aggregated by groups
func (h *Handler) HandleGetGroupAllocation(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	securities, err := h.snapshots.Securities(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	countryTargets, err := h.allocRepo.Targets(domain.GroupTypeCountry)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	industryTargets, err := h.allocRepo.Targets(domain.GroupTypeIndustry)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	countryAllocs := allocation.CalculateGroupAllocations(snapshot, securities, domain.GroupTypeCountry, countryTargets)
	industryAllocs := allocation.CalculateGroupAllocations(snapshot, securities, domain.GroupTypeIndustry, industryTargets)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_value":  snapshot.TotalValue(),
		"cash_balance": snapshot.CashEUR,
		"country":      countryAllocs,
		"industry":     industryAllocs,
	})
}

// resolveGroupType maps the {type} URL segment to a stored group type.
func (h *Handler) resolveGroupType(w http.ResponseWriter, r *http.Request) (string, bool) {
	switch chi.URLParam(r, "type") {
	case "country":
		return domain.GroupTypeCountry, true
	case "industry":
		return domain.GroupTypeIndustry, true
	default:
		h.writeError(w, http.StatusBadRequest, "Unknown group type")
		return "", false
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
