package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/campustrust/governance/anomaly"
	"github.com/campustrust/governance/campus"
	"github.com/campustrust/governance/contenthash"
	"github.com/campustrust/governance/internal/logger"
	"github.com/campustrust/governance/outbox"
	"github.com/campustrust/governance/rules"
	"github.com/go-chi/chi/v5"
)

// studentFields are the keys a single-student analysis must carry
var studentFields = []string{"checkin_times", "session_ids", "total_sessions"}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engine := s.automation.Engine()
	resp := HealthResponse{
		Status:      "healthy",
		TotalRules:  engine.Len(),
		ActiveRules: engine.ActiveCount(),
		Outbox:      s.outboxName,
		Counters:    logger.Snapshot(),
	}

	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyzeStudent(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	for _, field := range studentFields {
		if _, ok := raw[field]; !ok {
			respondError(w, http.StatusBadRequest, "missing required field: "+field, nil)
			return
		}
	}

	var record anomaly.Record
	if err := remarshal(raw, &record); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid student record", err)
		return
	}

	result := s.detector.AnalyzeStudent(record)
	logger.StudentsAnalysed.Add(1)

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalyzeClass(w http.ResponseWriter, r *http.Request) {
	var req ClassAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Students) == 0 {
		respondError(w, http.StatusBadRequest, "students list is required", nil)
		return
	}

	result := s.detector.AnalyzeClass(req.Students)
	logger.StudentsAnalysed.Add(int64(len(req.Students)))

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	triggered, err := s.automation.Process(req.Module, req.Data)
	if err != nil {
		if errors.Is(err, campus.ErrUnknownModule) {
			respondError(w, http.StatusBadRequest, "Unknown module", err)
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid module data", err)
		return
	}

	s.respondEvaluated(w, r, triggered)
}

func (s *Server) handleEvaluateContext(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var ctx rules.Context
	if err := dec.Decode(&ctx); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if ctx == nil {
		ctx = rules.Context{}
	}

	triggered := s.automation.Evaluate(ctx)

	s.respondEvaluated(w, r, triggered)
}

// respondEvaluated enqueues the contract calls and reports the actions.
// On an outbox failure the already recorded actions are returned with the
// error and logged by rule name.
func (s *Server) respondEvaluated(w http.ResponseWriter, r *http.Request, triggered []rules.TriggeredAction) {
	ids, err := s.enqueue(r, triggered)
	if err != nil {
		names := make([]string, len(triggered))
		for i, t := range triggered {
			names[i] = t.RuleName
		}
		logger.ErrorHttp5xx()
		logger.Error("triggered actions not recorded in outbox",
			"outbox", s.outboxName,
			"rules", names,
			"error", err)

		respondJSON(w, http.StatusInternalServerError, EvaluateErrorResponse{
			Error:            "Failed to record contract calls",
			Details:          err.Error(),
			TriggeredActions: toResponse(triggered),
		})
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		TriggeredActions: toResponse(triggered),
		OutboxIDs:        ids,
	})
}

// enqueue writes the contract calls among triggered to the outbox
func (s *Server) enqueue(r *http.Request, triggered []rules.TriggeredAction) ([]string, error) {
	logger.TriggeredActions.Add(int64(len(triggered)))

	entries, err := outbox.FromTriggered(triggered)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	if len(entries) == 0 {
		return ids, nil
	}

	if err := s.outbox.Enqueue(r.Context(), entries...); err != nil {
		return nil, err
	}
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	logger.OutboxEnqueued.Add(int64(len(entries)))
	logger.Debug("contract calls enqueued", "count", len(entries))

	return ids, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.automation.Dashboard())
}

func (s *Server) handleExecutionLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, rules.DefaultLogLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	respondJSON(w, http.StatusOK, ExecutionLogResponse{
		Entries: s.automation.Engine().ExecutionLog(limit),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RulesListResponse{
		Rules: s.automation.Engine().RulesStatus(),
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var spec rules.RuleSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	engine := s.automation.Engine()
	issues := engine.Lint(spec)
	index := engine.AddRule(spec)

	warnings := make([]string, 0, len(issues))
	for _, issue := range issues {
		warnings = append(warnings, issue.String())
	}
	if len(warnings) > 0 {
		logger.Warn("rule added with warnings", "rule", spec.Name, "warnings", warnings)
	}

	respondJSON(w, http.StatusCreated, CreateRuleResponse{
		Index:    index,
		Name:     spec.Name,
		Warnings: warnings,
	})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "missing required field: enabled", nil)
		return
	}

	if !s.automation.Engine().SetEnabled(name, *req.Enabled) {
		respondError(w, http.StatusNotFound, "Rule not found", fmt.Errorf("no rule named %q", name))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingOutbox(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, outbox.DefaultBatchSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	entries, err := s.outbox.Pending(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list outbox", err)
		return
	}
	if entries == nil {
		entries = []*outbox.Entry{}
	}

	respondJSON(w, http.StatusOK, PendingResponse{Entries: entries})
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	var req HashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	content := bytes.TrimSpace(req.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		respondError(w, http.StatusBadRequest, "missing required field: content", nil)
		return
	}

	var hash string
	var str string
	if err := json.Unmarshal(content, &str); err == nil {
		hash = contenthash.HashString(str)
	} else {
		h, err := contenthash.Hash(json.RawMessage(content))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Content cannot be canonicalised", err)
			return
		}
		hash = h
	}

	respondJSON(w, http.StatusOK, HashResponse{Hash: hash})
}

// remarshal decodes fields into out via a round trip
func remarshal(fields map[string]json.RawMessage, out any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
