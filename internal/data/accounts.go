package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

const accountsSchema = `
	CREATE TABLE IF NOT EXISTS accounts (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		cookies TEXT NOT NULL DEFAULT '{}',
		active INTEGER NOT NULL DEFAULT 0,
		auto_reply_enabled INTEGER NOT NULL DEFAULT 0,
		reply_delay_min INTEGER NOT NULL DEFAULT 2,
		reply_delay_max INTEGER NOT NULL DEFAULT 8,
		min_reply_gap INTEGER NOT NULL DEFAULT 60,
		daily_limit INTEGER NOT NULL DEFAULT 100,
		scan_interval INTEGER NOT NULL DEFAULT 8,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

// accountRepo implements repo.AccountRepo on sqlite
type accountRepo struct {
	db *sql.DB
}

func (r *accountRepo) Get(ctx context.Context, uid string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT uid, name, cookies, active, auto_reply_enabled, reply_delay_min,
		       reply_delay_max, min_reply_gap, daily_limit, scan_interval,
		       created_at, updated_at
		FROM accounts
		WHERE uid = ?
	`, uid)

	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *accountRepo) Save(ctx context.Context, acct *domain.Account) error {
	cookies, err := json.Marshal(acct.Cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	now := time.Now()
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts
			(uid, name, cookies, active, auto_reply_enabled, reply_delay_min,
			 reply_delay_max, min_reply_gap, daily_limit, scan_interval,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		acct.UID, acct.Name, string(cookies), boolToInt(acct.Active),
		boolToInt(acct.Settings.AutoReplyEnabled), acct.Settings.ReplyDelayMin,
		acct.Settings.ReplyDelayMax, acct.Settings.MinReplyGap,
		acct.Settings.DailyLimit, acct.Settings.ScanInterval,
		createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (r *accountRepo) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uid, name, cookies, active, auto_reply_enabled, reply_delay_min,
		       reply_delay_max, min_reply_gap, daily_limit, scan_interval,
		       created_at, updated_at
		FROM accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (r *accountRepo) SetActive(ctx context.Context, uid string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET active = ?, updated_at = ? WHERE uid = ?
	`, boolToInt(active), time.Now().Unix(), uid)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}

func (r *accountRepo) UpdateSettings(ctx context.Context, uid string, settings domain.ReplySettings) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET auto_reply_enabled = ?, reply_delay_min = ?, reply_delay_max = ?,
		    min_reply_gap = ?, daily_limit = ?, scan_interval = ?, updated_at = ?
		WHERE uid = ?
	`,
		boolToInt(settings.AutoReplyEnabled), settings.ReplyDelayMin,
		settings.ReplyDelayMax, settings.MinReplyGap, settings.DailyLimit,
		settings.ScanInterval, time.Now().Unix(), uid,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

func (r *accountRepo) Delete(ctx context.Context, uid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var acct domain.Account
	var cookies string
	var active, autoReply int
	var createdAt, updatedAt int64

	err := row.Scan(&acct.UID, &acct.Name, &cookies, &active, &autoReply,
		&acct.Settings.ReplyDelayMin, &acct.Settings.ReplyDelayMax,
		&acct.Settings.MinReplyGap, &acct.Settings.DailyLimit,
		&acct.Settings.ScanInterval, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if err := json.Unmarshal([]byte(cookies), &acct.Cookies); err != nil {
		return nil, fmt.Errorf("failed to decode cookies: %w", err)
	}
	acct.Active = active != 0
	acct.Settings.AutoReplyEnabled = autoReply != 0
	acct.CreatedAt = time.Unix(createdAt, 0)
	acct.UpdatedAt = time.Unix(updatedAt, 0)
	return &acct, nil
}
