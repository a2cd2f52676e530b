package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
)

// RuleStore serves ordered rule snapshots to pollers and applies rule
// mutations from the control API. Snapshots are immutable: a poll cycle
// keeps evaluating the slice it started with, mutations become visible
// at the next cycle.
type RuleStore struct {
	repo repo.RuleRepo

	mu    sync.RWMutex
	cache map[string][]domain.Rule // uid -> sorted enabled rules
}

// NewRuleStore creates a rule store over the given repository
func NewRuleStore(ruleRepo repo.RuleRepo) *RuleStore {
	return &RuleStore{
		repo:  ruleRepo,
		cache: make(map[string][]domain.Rule),
	}
}

// Snapshot returns the account's enabled rules sorted for evaluation.
// The returned slice must not be modified.
func (s *RuleStore) Snapshot(ctx context.Context, uid string) ([]domain.Rule, error) {
	s.mu.RLock()
	rules, ok := s.cache[uid]
	s.mu.RUnlock()
	if ok {
		return rules, nil
	}

	loaded, err := s.repo.ListByAccount(ctx, uid, true)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	domain.SortRules(loaded)

	s.mu.Lock()
	s.cache[uid] = loaded
	s.mu.Unlock()
	return loaded, nil
}

// List returns all of the account's rules, including disabled ones,
// sorted for display.
func (s *RuleStore) List(ctx context.Context, uid string) ([]domain.Rule, error) {
	rules, err := s.repo.ListByAccount(ctx, uid, false)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	domain.SortRules(rules)
	return rules, nil
}

// Get returns one rule or nil
func (s *RuleStore) Get(ctx context.Context, uid string, ruleID int64) (*domain.Rule, error) {
	return s.repo.Get(ctx, uid, ruleID)
}

// Save validates and persists a rule, then invalidates the snapshot
func (s *RuleStore) Save(ctx context.Context, rule *domain.Rule) (int64, error) {
	if rule.AccountUID == "" {
		return 0, fmt.Errorf("rule has no account")
	}
	if rule.Keyword == "" {
		return 0, fmt.Errorf("rule keyword is empty")
	}
	if !domain.ValidMatchType(rule.MatchType) {
		return 0, fmt.Errorf("unknown match type %q", rule.MatchType)
	}

	id, err := s.repo.Save(ctx, rule)
	if err != nil {
		return 0, fmt.Errorf("save rule: %w", err)
	}
	s.invalidate(rule.AccountUID)
	return id, nil
}

// Delete removes a rule
func (s *RuleStore) Delete(ctx context.Context, uid string, ruleID int64) error {
	if err := s.repo.Delete(ctx, uid, ruleID); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.invalidate(uid)
	return nil
}

// SetEnabled flips a rule's enabled flag
func (s *RuleStore) SetEnabled(ctx context.Context, uid string, ruleID int64, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, uid, ruleID, enabled); err != nil {
		return fmt.Errorf("toggle rule: %w", err)
	}
	s.invalidate(uid)
	return nil
}

// SetPriority changes a rule's priority
func (s *RuleStore) SetPriority(ctx context.Context, uid string, ruleID int64, priority int) error {
	if err := s.repo.SetPriority(ctx, uid, ruleID, priority); err != nil {
		return fmt.Errorf("set rule priority: %w", err)
	}
	s.invalidate(uid)
	return nil
}

func (s *RuleStore) invalidate(uid string) {
	s.mu.Lock()
	delete(s.cache, uid)
	s.mu.Unlock()
}
