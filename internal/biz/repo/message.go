package repo

import (
	"context"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

// MessageGateway is the capability surface of one authenticated account.
// Implemented by the Bilibili API client; fakes stand in for it in tests.
//
// Fetch methods fail with bilibili.TransientError for retryable conditions
// and bilibili.ErrSessionExpired when the account's cookies are no longer
// valid. Send failures that are not transient are bilibili.SendError.
type MessageGateway interface {
	// FetchSessions lists the account's conversations, most recently
	// active first.
	FetchSessions(ctx context.Context, sessionType, size int) ([]domain.Talker, error)

	// FetchMessages returns messages for one talker with SeqNo greater
	// than beginSeqno, oldest first.
	FetchMessages(ctx context.Context, talkerID int64, sessionType, size int, beginSeqno int64) ([]domain.DirectMessage, error)

	// SendText sends a text reply to the talker.
	SendText(ctx context.Context, talkerID int64, receiverType int, text string) error
}
