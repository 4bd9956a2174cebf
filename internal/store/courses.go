package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"coursemail-engine/internal/domain"
)

// AddCourse registers a course for an account. Adding a name twice returns
// the existing row.
func (d *DB) AddCourse(ctx context.Context, accountID, name string) (domain.Course, error) {
	name = strings.TrimSpace(name)
	if accountID == "" || name == "" {
		return domain.Course{}, &PersistenceError{Op: "add course", Err: errors.New("account id and name are required")}
	}

	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO courses(id, account_id, name, created_at)
VALUES(?,?,?,?)
ON CONFLICT(account_id, name) DO NOTHING;
`, uuid.NewString(), accountID, name, formatTime(d.now()))
	if err != nil {
		return domain.Course{}, &PersistenceError{Op: "add course", Err: err}
	}

	var (
		c       domain.Course
		created string
	)
	err = d.Pool.QueryRowContext(ctx,
		`SELECT id, account_id, name, created_at FROM courses WHERE account_id = ? AND name = ?;`,
		accountID, name,
	).Scan(&c.ID, &c.AccountID, &c.Name, &created)
	if err != nil {
		return domain.Course{}, err
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

func (d *DB) ListCourses(ctx context.Context, accountID string) ([]domain.Course, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT id, account_id, name, created_at
FROM courses
WHERE account_id = ?
ORDER BY created_at, rowid;`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Course{}
	for rows.Next() {
		var (
			c       domain.Course
			created string
		)
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindCourseByName returns the oldest course of the account whose name
// contains fragment. The match is case-sensitive (instr, not LIKE).
func (d *DB) FindCourseByName(ctx context.Context, accountID, fragment string) (domain.Course, bool, error) {
	if fragment == "" {
		return domain.Course{}, false, nil
	}

	var (
		c       domain.Course
		created string
	)
	err := d.Pool.QueryRowContext(ctx, `
SELECT id, account_id, name, created_at
FROM courses
WHERE account_id = ? AND instr(name, ?) > 0
ORDER BY created_at, rowid
LIMIT 1;`, accountID, fragment).Scan(&c.ID, &c.AccountID, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Course{}, false, nil
	}
	if err != nil {
		return domain.Course{}, false, err
	}
	c.CreatedAt = parseTime(created)
	return c, true, nil
}
