package repo

import (
	"context"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

// RuleRepo is the auto-reply rule repository interface (SQLite)
type RuleRepo interface {
	// ListByAccount returns the account's rules. When enabledOnly is set,
	// disabled rules are filtered out. Order is unspecified; callers sort.
	ListByAccount(ctx context.Context, uid string, enabledOnly bool) ([]domain.Rule, error)

	// Get returns one rule or nil when it does not exist
	Get(ctx context.Context, uid string, ruleID int64) (*domain.Rule, error)

	// Save inserts the rule when ID is zero, otherwise updates it.
	// Returns the rule ID.
	Save(ctx context.Context, rule *domain.Rule) (int64, error)

	// Delete removes a rule
	Delete(ctx context.Context, uid string, ruleID int64) error

	// SetEnabled flips a rule's enabled flag
	SetEnabled(ctx context.Context, uid string, ruleID int64, enabled bool) error

	// SetPriority changes a rule's priority
	SetPriority(ctx context.Context, uid string, ruleID int64, priority int) error
}
