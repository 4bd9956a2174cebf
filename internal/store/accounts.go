package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Account is the non-secret half of a mailbox credential. The secret lives
// in the OS keyring.
type Account struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	CreatedAt time.Time `json:"createdAt"`
}

func (d *DB) UpsertAccount(ctx context.Context, a Account) error {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return &PersistenceError{Op: "upsert account", Err: errors.New("account id is empty")}
	}
	if a.Port == 0 {
		a.Port = 993
	}
	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO accounts(id, username, host, port, created_at)
VALUES(?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  username = excluded.username,
  host = excluded.host,
  port = excluded.port;
`, a.ID, strings.TrimSpace(a.Username), strings.TrimSpace(a.Host), a.Port, formatTime(d.now()))
	if err != nil {
		return &PersistenceError{Op: "upsert account", Err: err}
	}
	return nil
}

func (d *DB) GetAccount(ctx context.Context, id string) (Account, error) {
	var (
		a       Account
		created string
	)
	err := d.Pool.QueryRowContext(ctx,
		`SELECT id, username, host, port, created_at FROM accounts WHERE id = ? LIMIT 1;`,
		strings.TrimSpace(id),
	).Scan(&a.ID, &a.Username, &a.Host, &a.Port, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}
