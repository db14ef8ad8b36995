// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/jamcalli/Pulsarr-sub006/internal/delivery"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
	"github.com/jamcalli/Pulsarr-sub006/internal/routing"
	"github.com/jamcalli/Pulsarr-sub006/internal/store"
	"github.com/jamcalli/Pulsarr-sub006/internal/workflow"
)

// Pipeline is the coordinator surface the handlers consume.
type Pipeline interface {
	Status() workflow.Status
	TriggerSync()
}

// Handler implements the control-surface endpoints.
type Handler struct {
	pipeline   Pipeline
	engine     *routing.Engine
	store      *store.Store
	queue      *delivery.DeferredQueue
	dispatcher *delivery.Dispatcher
}

// NewHandler wires the handler set.
func NewHandler(pipeline Pipeline, engine *routing.Engine, st *store.Store, queue *delivery.DeferredQueue, dispatcher *delivery.Dispatcher) *Handler {
	return &Handler{
		pipeline:   pipeline,
		engine:     engine,
		store:      st,
		queue:      queue,
		dispatcher: dispatcher,
	}
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse extends the coordinator status with queue depths.
type statusResponse struct {
	workflow.Status
	QueueDepths map[string]int `json:"queueDepths"`
}

// Status reports pipeline state and deferred queue depths.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:      h.pipeline.Status(),
		QueueDepths: map[string]int{},
	}
	for _, kind := range []models.TargetKind{models.TargetRadarr, models.TargetSonarr} {
		depth, err := h.queue.Depth(r.Context(), kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.QueueDepths[string(kind)] = depth
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerSync requests an immediate poll cycle.
func (h *Handler) TriggerSync(w http.ResponseWriter, _ *http.Request) {
	h.pipeline.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// ListRules returns the stored rule set.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.GetRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rules == nil {
		rules = []models.RoutingRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// SaveRule validates and persists a rule. Structural problems (empty
// groups, unknown fields, missing instances) are rejected here so they
// can never reach evaluation.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var rule models.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.engine.ValidateRule(&rule, h.instanceExists); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if err := h.store.SaveRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logging.Info().Str("rule", rule.Name).Str("id", rule.ID).Msg("Routing rule saved")
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule removes a rule by ID.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.DeleteRule(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// previewRequest carries an item to evaluate against the stored rules.
type previewRequest struct {
	Item models.ContentItem `json:"item"`
}

type previewResponse struct {
	Decisions []models.RoutingDecision `json:"decisions"`
}

// PreviewRouting evaluates an item against the current rule set without
// dispatching anything, for rule authoring.
func (h *Handler) PreviewRouting(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Item.GUID == "" {
		writeError(w, http.StatusBadRequest, errors.New("item.guid is required"))
		return
	}

	rules, err := h.store.GetRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	decisions := h.engine.Evaluate(&req.Item, rules)
	if decisions == nil {
		decisions = []models.RoutingDecision{}
	}
	writeJSON(w, http.StatusOK, previewResponse{Decisions: decisions})
}

func (h *Handler) instanceExists(kind models.TargetKind, id int) bool {
	mgr, ok := h.dispatcher.Manager(kind)
	if !ok {
		return false
	}
	for _, inst := range mgr.Instances() {
		if inst.ID == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
