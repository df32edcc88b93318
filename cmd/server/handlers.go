package main

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/repository"
)

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Backend: s.app.Backend()}
	if err := s.app.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Rule handlers

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.rules.List(r.Context())
	if err != nil {
		respondErr(w, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// @Summary Create a retention rule
// @Tags rules
// @Accept json
// @Produce json
// @Param rule body RuleRequest true "Rule definition"
// @Success 201 {object} retention.Rule
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /rules [post]
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule, err := req.toRule("")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.app.rules.Create(r.Context(), rule); err != nil {
		respondErr(w, "failed to create rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.app.rules.Get(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondErr(w, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule, err := req.toRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.app.rules.Update(r.Context(), rule); err != nil {
		respondErr(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.app.rules.Delete(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		respondErr(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := s.app.rules.SetEnabled(r.Context(), chi.URLParam(r, "ruleId"), enabled)
		if err != nil {
			respondErr(w, "failed to update rule", err)
			return
		}
		respondJSON(w, http.StatusOK, rule)
	}
}

// Document handlers

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Type == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "type and name are required", nil)
		return
	}
	doc, err := s.app.repo.Create(r.Context(), &repository.Document{
		Type:       req.Type,
		Name:       req.Name,
		Path:       path.Join("/", req.ParentPath, req.Name),
		Properties: req.Properties,
	})
	if err != nil {
		respondErr(w, "failed to create document", err)
		return
	}
	respondJSON(w, http.StatusCreated, DocumentResponse{Document: doc})
}

// @Summary Get a document with its retention marker
// @Tags documents
// @Produce json
// @Param docId path string true "Document ID"
// @Success 200 {object} DocumentResponse
// @Failure 404 {object} ErrorResponse
// @Router /documents/{docId} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "docId")
	doc, err := s.app.repo.Get(r.Context(), id)
	if err != nil {
		respondErr(w, "document not found", err)
		return
	}
	marker, err := s.app.repo.RetentionMarker(r.Context(), id)
	if err != nil {
		respondErr(w, "failed to read retention marker", err)
		return
	}
	respondJSON(w, http.StatusOK, DocumentResponse{Document: doc, RetainUntil: marker})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.app.repo.Delete(r.Context(), chi.URLParam(r, "docId")); err != nil {
		respondErr(w, "failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveDocument(w http.ResponseWriter, r *http.Request) {
	var req MoveDocumentRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ParentPath == "" {
		respondError(w, http.StatusBadRequest, "parentPath is required", nil)
		return
	}
	doc, err := s.app.repo.Move(r.Context(), chi.URLParam(r, "docId"), req.ParentPath)
	if err != nil {
		respondErr(w, "failed to move document", err)
		return
	}
	respondJSON(w, http.StatusOK, DocumentResponse{Document: doc})
}

// Retention handlers

// @Summary Attach a rule to a document
// @Tags retention
// @Accept json
// @Produce json
// @Param docId path string true "Document ID"
// @Param request body AttachRequest true "Rule to attach"
// @Success 200 {object} DocumentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /documents/{docId}/retention [post]
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule, err := s.app.rules.Get(r.Context(), req.RuleID)
	if err != nil {
		respondErr(w, "rule not found", err)
		return
	}

	id := chi.URLParam(r, "docId")
	doc, err := s.app.engine.Attach(r.Context(), id, rule, sessionFrom(r))
	if err != nil {
		respondErr(w, "failed to attach retention", err)
		return
	}
	marker, err := s.app.repo.RetentionMarker(r.Context(), id)
	if err != nil {
		respondErr(w, "failed to read retention marker", err)
		return
	}
	respondJSON(w, http.StatusOK, DocumentResponse{Document: doc, RetainUntil: marker})
}

func (s *Server) handleApplyAutoRules(w http.ResponseWriter, r *http.Request) {
	rule, doc, err := s.app.engine.ApplyAutoRules(r.Context(), chi.URLParam(r, "docId"), sessionFrom(r))
	if err != nil {
		respondErr(w, "failed to apply auto rules", err)
		return
	}
	resp := AutoApplyResponse{Document: doc}
	if rule != nil {
		resp.RuleID = rule.ID
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.app.engine.Record(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		respondErr(w, "record not found", err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if err := s.app.engine.FinalizeByID(r.Context(), chi.URLParam(r, "docId"), sessionFrom(r)); err != nil {
		respondErr(w, "failed to finalize record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Event handlers

// @Summary Ingest a notification bundle
// @Description Notifications committed together by an external repository.
// @Tags events
// @Accept json
// @Param bundle body BundleRequest true "Notifications"
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Router /bundles [post]
func (s *Server) handleIngestBundle(w http.ResponseWriter, r *http.Request) {
	var req BundleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	for _, n := range req.Notifications {
		if n.Name == "" || n.ObjectID == "" {
			respondError(w, http.StatusBadRequest, "notifications need a name and an objectId", nil)
			return
		}
	}
	if err := s.app.dispatcher.HandleBundle(s.base, events.Bundle(req.Notifications)); err != nil {
		respondErr(w, "failed to dispatch bundle", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAcceptedEvents(w http.ResponseWriter, r *http.Request) {
	set, err := s.app.engine.AcceptedEvents(r.Context())
	if err != nil {
		respondErr(w, "failed to load accepted events", err)
		return
	}
	respondJSON(w, http.StatusOK, AcceptedEventsResponse{Events: set.Sorted()})
}

func (s *Server) handleInvalidateEvents(w http.ResponseWriter, r *http.Request) {
	s.app.engine.InvalidateAcceptedEvents()
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Finalize every expired record now
// @Tags maintenance
// @Produce json
// @Success 200 {object} SweepResponse
// @Failure 500 {object} SweepResponse
// @Router /sweep [post]
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	resp := SweepResponse{At: s.app.engine.Now()}
	n, err := s.app.sweeper.RunOnce(r.Context())
	resp.Finalized = n
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
