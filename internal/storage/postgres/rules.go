package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

const ruleColumns = `id, name, platforms, keywords, exclude_keywords, hashtags, accounts,
	sentiment_threshold, engagement_threshold, priority, active, filters, created_at, updated_at`

// CreateRule inserts a new rule.
func (s *Store) CreateRule(ctx context.Context, rule monitor.Rule) error {
	filters, err := encodeFilters(rule.Filters)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO crawler_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`
	_, err = s.pool.Exec(ctx, query,
		rule.ID,
		rule.Name,
		platformStrings(rule.Platforms),
		nonNil(rule.Keywords),
		nonNil(rule.ExcludeKeywords),
		nonNil(rule.Hashtags),
		nonNil(rule.Accounts),
		rule.SentimentThreshold,
		rule.EngagementThreshold,
		rule.Priority,
		rule.Active,
		filters,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", rule.ID, err)
	}
	return nil
}

// UpdateRule replaces every mutable column of a rule.
func (s *Store) UpdateRule(ctx context.Context, rule monitor.Rule) error {
	filters, err := encodeFilters(rule.Filters)
	if err != nil {
		return err
	}
	query := `
		UPDATE crawler_rules
		SET name = $2, platforms = $3, keywords = $4, exclude_keywords = $5, hashtags = $6,
			accounts = $7, sentiment_threshold = $8, engagement_threshold = $9, priority = $10,
			active = $11, filters = $12, updated_at = $13
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		rule.ID,
		rule.Name,
		platformStrings(rule.Platforms),
		nonNil(rule.Keywords),
		nonNil(rule.ExcludeKeywords),
		nonNil(rule.Hashtags),
		nonNil(rule.Accounts),
		rule.SentimentThreshold,
		rule.EngagementThreshold,
		rule.Priority,
		rule.Active,
		filters,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, monitor.ErrNotFound)
	}
	return nil
}

// DeleteRule removes a rule. Evidence rows referencing it are kept.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawler_rules WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, monitor.ErrNotFound)
	}
	return nil
}

// GetRule loads a single rule.
func (s *Store) GetRule(ctx context.Context, id string) (monitor.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM crawler_rules WHERE id = $1;`
	rule, err := scanRule(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Rule{}, fmt.Errorf("rule %s: %w", id, monitor.ErrNotFound)
		}
		return monitor.Rule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return rule, nil
}

// ListRules returns every rule by priority then creation order.
func (s *Store) ListRules(ctx context.Context) ([]monitor.Rule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM crawler_rules ORDER BY priority, created_at, seq;`)
}

// ListActiveRules returns active rules by priority then creation order.
func (s *Store) ListActiveRules(ctx context.Context) ([]monitor.Rule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM crawler_rules WHERE active ORDER BY priority, created_at, seq;`)
}

func (s *Store) listRules(ctx context.Context, query string) ([]monitor.Rule, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []monitor.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// CountRules returns the total and active rule counts.
func (s *Store) CountRules(ctx context.Context) (int, int, error) {
	var total, active int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE active) FROM crawler_rules;`,
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count rules: %w", err)
	}
	return int(total), int(active), nil
}

func scanRule(row scanner) (monitor.Rule, error) {
	var (
		rule      monitor.Rule
		platforms []string
		filters   []byte
	)
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&platforms,
		&rule.Keywords,
		&rule.ExcludeKeywords,
		&rule.Hashtags,
		&rule.Accounts,
		&rule.SentimentThreshold,
		&rule.EngagementThreshold,
		&rule.Priority,
		&rule.Active,
		&filters,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return monitor.Rule{}, err
	}
	for _, p := range platforms {
		rule.Platforms = append(rule.Platforms, monitor.Platform(p))
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &rule.Filters); err != nil {
			return monitor.Rule{}, fmt.Errorf("decode filters of rule %s: %w", rule.ID, err)
		}
	}
	return rule, nil
}

func encodeFilters(filters map[string]any) ([]byte, error) {
	if len(filters) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}
	return raw, nil
}

func platformStrings(platforms []monitor.Platform) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, string(p))
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
