package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// Stores bundles all sqlite-backed repositories over one database file
type Stores struct {
	Accounts  repo.AccountRepo
	Rules     repo.RuleRepo
	Cursors   repo.CursorRepo
	ReplyLogs repo.ReplyLogRepo

	db *sql.DB
}

// NewStores opens (or creates) the database and prepares all tables
func NewStores(dbPath string) (*Stores, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, ddl := range []string{
		accountsSchema,
		rulesSchema,
		cursorsSchema,
		replyLogsSchema,
	} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare schema: %w", err)
		}
	}

	return &Stores{
		Accounts:  &accountRepo{db: db},
		Rules:     &ruleRepo{db: db},
		Cursors:   &cursorRepo{db: db},
		ReplyLogs: &replyLogRepo{db: db},
		db:        db,
	}, nil
}

// Close closes the underlying database
func (s *Stores) Close() error {
	return s.db.Close()
}
