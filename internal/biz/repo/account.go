package repo

import (
	"context"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

// AccountRepo is the account store interface (SQLite)
type AccountRepo interface {
	// Get returns an account by UID or nil when unknown
	Get(ctx context.Context, uid string) (*domain.Account, error)

	// Save inserts or replaces an account
	Save(ctx context.Context, acct *domain.Account) error

	// List returns all stored accounts
	List(ctx context.Context) ([]*domain.Account, error)

	// SetActive flips the active flag
	SetActive(ctx context.Context, uid string, active bool) error

	// UpdateSettings replaces the account's reply settings
	UpdateSettings(ctx context.Context, uid string, settings domain.ReplySettings) error

	// Delete removes an account
	Delete(ctx context.Context, uid string) error
}

// CursorRepo persists the last-seen sequence number per conversation,
// so a processed message is never re-dispatched.
type CursorRepo interface {
	// Get returns the cursor for (account, talker), 0 when none is stored
	Get(ctx context.Context, uid string, talkerID int64) (int64, error)

	// Advance stores the cursor when it is greater than the stored one
	Advance(ctx context.Context, uid string, talkerID int64, seqno int64) error
}
