package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/rules"
)

const maxRuleBody = 1 << 20

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule service unavailable")
		return
	}
	list, err := s.rules.List(r.Context())
	if err != nil {
		s.ruleError(w, err)
		return
	}
	if list == nil {
		list = []monitor.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": list})
}

// createRule handles POST /v1/rules. Omitted "active" defaults to true.
func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule service unavailable")
		return
	}
	rule := monitor.Rule{Active: true}
	if err := decodeRule(w, r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.rules.Create(r.Context(), rule)
	if err != nil {
		s.ruleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule service unavailable")
		return
	}
	rule, err := s.rules.Get(r.Context(), chi.URLParam(r, "rule_id"))
	if err != nil {
		s.ruleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// updateRule handles PUT /v1/rules/{rule_id}. Fields absent from the body
// keep their stored values.
func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule service unavailable")
		return
	}
	id := chi.URLParam(r, "rule_id")
	rule, err := s.rules.Get(r.Context(), id)
	if err != nil {
		s.ruleError(w, err)
		return
	}
	if err := decodeRule(w, r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = id
	updated, err := s.rules.Update(r.Context(), rule)
	if err != nil {
		s.ruleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule service unavailable")
		return
	}
	if err := s.rules.Delete(r.Context(), chi.URLParam(r, "rule_id")); err != nil {
		s.ruleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeRule(w http.ResponseWriter, r *http.Request, rule *monitor.Rule) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRuleBody))
	if err := dec.Decode(rule); err != nil {
		return fmt.Errorf("invalid rule body: %w", err)
	}
	rule.Name = strings.TrimSpace(rule.Name)
	return nil
}

func (s *Server) ruleError(w http.ResponseWriter, err error) {
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  verr.Error(),
			"fields": verr.Fields,
		})
	case errors.Is(err, monitor.ErrNotFound):
		writeError(w, http.StatusNotFound, "rule not found")
	default:
		s.logger.Error("rule operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rule operation failed")
	}
}
