package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const cursorsSchema = `
	CREATE TABLE IF NOT EXISTS cursors (
		account_uid TEXT NOT NULL,
		talker_id INTEGER NOT NULL,
		max_seqno INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (account_uid, talker_id)
	);
`

// cursorRepo implements repo.CursorRepo on sqlite
type cursorRepo struct {
	db *sql.DB
}

func (r *cursorRepo) Get(ctx context.Context, uid string, talkerID int64) (int64, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT max_seqno FROM cursors WHERE account_uid = ? AND talker_id = ?
	`, uid, talkerID)

	var seqno int64
	err := row.Scan(&seqno)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query cursor: %w", err)
	}
	return seqno, nil
}

func (r *cursorRepo) Advance(ctx context.Context, uid string, talkerID int64, seqno int64) error {
	// MAX keeps the cursor monotonic even under redundant writes.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (account_uid, talker_id, max_seqno, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_uid, talker_id)
		DO UPDATE SET max_seqno = MAX(max_seqno, excluded.max_seqno),
		              updated_at = excluded.updated_at
	`, uid, talkerID, seqno, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}
