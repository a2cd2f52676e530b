package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

const replyLogsSchema = `
	CREATE TABLE IF NOT EXISTS reply_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_uid TEXT NOT NULL,
		talker_id INTEGER NOT NULL,
		talker_name TEXT NOT NULL DEFAULT '',
		rule_id INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL,
		reply TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reply_logs_account ON reply_logs(account_uid, created_at);
`

// replyLogRepo implements repo.ReplyLogRepo on sqlite
type replyLogRepo struct {
	db *sql.DB
}

func (r *replyLogRepo) Append(ctx context.Context, ev *domain.ReplyEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reply_logs
			(account_uid, talker_id, talker_name, rule_id, message, reply, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.AccountUID, ev.TalkerID, ev.TalkerName, ev.RuleID,
		ev.Message, ev.Reply, string(ev.Outcome), ev.Error, ev.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append reply log: %w", err)
	}
	return nil
}

func (r *replyLogRepo) Recent(ctx context.Context, uid string, limit int) ([]*domain.ReplyEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_uid, talker_id, talker_name, rule_id, message, reply, outcome, error, created_at
		FROM reply_logs
		WHERE account_uid = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reply logs: %w", err)
	}
	defer rows.Close()

	var events []*domain.ReplyEvent
	for rows.Next() {
		var ev domain.ReplyEvent
		var outcome string
		var createdAt int64
		if err := rows.Scan(&ev.AccountUID, &ev.TalkerID, &ev.TalkerName, &ev.RuleID,
			&ev.Message, &ev.Reply, &outcome, &ev.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reply log: %w", err)
		}
		ev.Outcome = domain.Outcome(outcome)
		ev.At = time.Unix(createdAt, 0)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *replyLogRepo) CountSentSince(ctx context.Context, uid string, since time.Time) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT talker_id, COUNT(*)
		FROM reply_logs
		WHERE account_uid = ? AND outcome = ? AND created_at >= ?
		GROUP BY talker_id
	`, uid, string(domain.OutcomeSent), since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to count replies: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var talkerID int64
		var n int
		if err := rows.Scan(&talkerID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan reply count: %w", err)
		}
		counts[talkerID] = n
	}
	return counts, rows.Err()
}
