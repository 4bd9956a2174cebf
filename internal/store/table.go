package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v >= schemaVersion {
		return tx.Commit()
	}

	// ---- Schema v1: tables ----

	statements := []string{
		`
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  host TEXT NOT NULL,
  port INTEGER NOT NULL DEFAULT 993,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  name TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS assignments (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  course_id TEXT REFERENCES courses(id) ON DELETE SET NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  due_date TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  source_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,

		// ---- Schema v1: indexes ----

		`CREATE INDEX IF NOT EXISTS idx_courses_account ON courses(account_id, created_at);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_courses_account_name ON courses(account_id, name);`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_account_due ON assignments(account_id, due_date);`,
		// One assignment per (account, message). Rows without a source id are
		// never deduped.
		`
CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_source_id
ON assignments(account_id, source_id)
WHERE source_id != '';`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}
