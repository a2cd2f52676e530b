package repo

import (
	"context"
	"time"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

// ReplyLogRepo persists reply events for audit and statistics (SQLite)
type ReplyLogRepo interface {
	// Append stores one event
	Append(ctx context.Context, ev *domain.ReplyEvent) error

	// Recent returns the newest events for an account, newest first
	Recent(ctx context.Context, uid string, limit int) ([]*domain.ReplyEvent, error)

	// CountSentSince counts "sent" events per talker since the given time.
	// Used to seed throttle counters after a restart.
	CountSentSince(ctx context.Context, uid string, since time.Time) (map[int64]int, error)
}
