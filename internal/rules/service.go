// Package rules administers crawler rules: validation, id and timestamp
// assignment, persistence and change events.
package rules

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/progress"
)

// Service wraps a RuleStore with validation and change notifications.
type Service struct {
	store    monitor.RuleStore
	ids      monitor.IDGenerator
	clock    monitor.Clock
	progress progress.Emitter
	logger   *zap.Logger
}

// NewService builds a Service. A nil emitter discards rule events.
func NewService(store monitor.RuleStore, ids monitor.IDGenerator, clock monitor.Clock, emitter progress.Emitter, logger *zap.Logger) (*Service, error) {
	if store == nil || ids == nil || clock == nil {
		return nil, errors.New("rules: store, id generator and clock are required")
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ids: ids, clock: clock, progress: emitter, logger: logger}, nil
}

// Create validates rule, assigns an id and timestamps, and stores it.
// Any id on the input is ignored.
func (s *Service) Create(ctx context.Context, rule monitor.Rule) (monitor.Rule, error) {
	rule = Normalize(rule)
	if err := Validate(rule); err != nil {
		return monitor.Rule{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return monitor.Rule{}, fmt.Errorf("generate rule id: %w", err)
	}
	now := s.clock.Now().UTC()
	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return monitor.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	s.logger.Info("rule created", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name), zap.Bool("active", rule.Active))
	s.emit(progress.StageRuleCreated, rule.ID, rule.Name)
	return rule, nil
}

// Update replaces the rule with rule.ID, keeping its creation time.
func (s *Service) Update(ctx context.Context, rule monitor.Rule) (monitor.Rule, error) {
	existing, err := s.store.GetRule(ctx, rule.ID)
	if err != nil {
		return monitor.Rule{}, fmt.Errorf("load rule: %w", err)
	}
	rule = Normalize(rule)
	if err := Validate(rule); err != nil {
		return monitor.Rule{}, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return monitor.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	s.logger.Info("rule updated", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name), zap.Bool("active", rule.Active))
	s.emit(progress.StageRuleUpdated, rule.ID, rule.Name)
	return rule, nil
}

// Delete removes a rule. Stored evidence that names it is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.logger.Info("rule deleted", zap.String("rule_id", id))
	s.emit(progress.StageRuleDeleted, id, "")
	return nil
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, id string) (monitor.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return monitor.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// List returns every rule in dispatch order, inactive ones included.
func (s *Service) List(ctx context.Context) ([]monitor.Rule, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

func (s *Service) emit(stage progress.Stage, id, name string) {
	s.progress.Emit(progress.Event{
		TS:     s.clock.Now().UTC(),
		Stage:  stage,
		RuleID: id,
		Note:   name,
	})
}
