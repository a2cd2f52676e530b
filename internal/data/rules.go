package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

const rulesSchema = `
	CREATE TABLE IF NOT EXISTS auto_reply_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_uid TEXT NOT NULL,
		keyword TEXT NOT NULL,
		reply_content TEXT NOT NULL,
		match_type TEXT NOT NULL DEFAULT 'contains',
		case_sensitive INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_account ON auto_reply_rules(account_uid);
`

// ruleRepo implements repo.RuleRepo on sqlite
type ruleRepo struct {
	db *sql.DB
}

func (r *ruleRepo) ListByAccount(ctx context.Context, uid string, enabledOnly bool) ([]domain.Rule, error) {
	query := `
		SELECT id, account_uid, keyword, reply_content, match_type,
		       case_sensitive, enabled, priority, description, created_at, updated_at
		FROM auto_reply_rules
		WHERE account_uid = ?
	`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (r *ruleRepo) Get(ctx context.Context, uid string, ruleID int64) (*domain.Rule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_uid, keyword, reply_content, match_type,
		       case_sensitive, enabled, priority, description, created_at, updated_at
		FROM auto_reply_rules
		WHERE account_uid = ? AND id = ?
	`, uid, ruleID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *ruleRepo) Save(ctx context.Context, rule *domain.Rule) (int64, error) {
	now := time.Now()

	if rule.ID == 0 {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO auto_reply_rules
				(account_uid, keyword, reply_content, match_type, case_sensitive,
				 enabled, priority, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rule.AccountUID, rule.Keyword, rule.ReplyContent, string(rule.MatchType),
			boolToInt(rule.CaseSensitive), boolToInt(rule.Enabled), rule.Priority,
			rule.Description, now.Unix(), now.Unix(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert rule: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to get rule id: %w", err)
		}
		rule.ID = id
		return id, nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE auto_reply_rules
		SET keyword = ?, reply_content = ?, match_type = ?, case_sensitive = ?,
		    enabled = ?, priority = ?, description = ?, updated_at = ?
		WHERE account_uid = ? AND id = ?
	`,
		rule.Keyword, rule.ReplyContent, string(rule.MatchType), boolToInt(rule.CaseSensitive),
		boolToInt(rule.Enabled), rule.Priority, rule.Description, now.Unix(),
		rule.AccountUID, rule.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule.ID, nil
}

func (r *ruleRepo) Delete(ctx context.Context, uid string, ruleID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auto_reply_rules WHERE account_uid = ? AND id = ?`, uid, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

func (r *ruleRepo) SetEnabled(ctx context.Context, uid string, ruleID int64, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auto_reply_rules SET enabled = ?, updated_at = ?
		WHERE account_uid = ? AND id = ?
	`, boolToInt(enabled), time.Now().Unix(), uid, ruleID)
	if err != nil {
		return fmt.Errorf("failed to set rule enabled: %w", err)
	}
	return nil
}

func (r *ruleRepo) SetPriority(ctx context.Context, uid string, ruleID int64, priority int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auto_reply_rules SET priority = ?, updated_at = ?
		WHERE account_uid = ? AND id = ?
	`, priority, time.Now().Unix(), uid, ruleID)
	if err != nil {
		return fmt.Errorf("failed to set rule priority: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var matchType string
	var caseSensitive, enabled int
	var createdAt, updatedAt int64

	err := row.Scan(&rule.ID, &rule.AccountUID, &rule.Keyword, &rule.ReplyContent,
		&matchType, &caseSensitive, &enabled, &rule.Priority, &rule.Description,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.MatchType = domain.MatchType(matchType)
	rule.CaseSensitive = caseSensitive != 0
	rule.Enabled = enabled != 0
	rule.CreatedAt = time.Unix(createdAt, 0)
	rule.UpdatedAt = time.Unix(updatedAt, 0)
	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
