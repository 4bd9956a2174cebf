package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"coursemail-engine/internal/domain"
)

// InsertAssignment writes a new assignment. added is false when a row with
// the same (account, source id) already exists; that is not an error.
func (d *DB) InsertAssignment(ctx context.Context, a domain.Assignment) (added bool, err error) {
	if strings.TrimSpace(a.Title) == "" || a.DueDate.IsZero() || a.AccountID == "" {
		return false, &PersistenceError{Op: "insert assignment", Err: errors.New("account, title and due date are required")}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = d.now()
	}

	var courseID sql.NullString
	if a.CourseID != nil {
		courseID = sql.NullString{String: *a.CourseID, Valid: true}
	}

	res, err := d.Pool.ExecContext(ctx, `
INSERT OR IGNORE INTO assignments(id, account_id, course_id, title, description, due_date, status, source_id, created_at)
VALUES(?,?,?,?,?,?,?,?,?);`,
		a.ID,
		a.AccountID,
		courseID,
		a.Title,
		a.Description,
		formatTime(a.DueDate),
		a.Status,
		strings.TrimSpace(a.SourceID),
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return false, &PersistenceError{Op: "insert assignment", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type ListAssignmentsOpts struct {
	Status string // empty = any
	Limit  int
}

// ListAssignments returns an account's assignments, soonest due first.
func (d *DB) ListAssignments(ctx context.Context, accountID string, opts ListAssignmentsOpts) ([]domain.Assignment, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 200
	}

	q := `
SELECT id, account_id, course_id, title, description, due_date, status, source_id, created_at
FROM assignments
WHERE account_id = ?`
	args := []any{accountID}
	if opts.Status != "" {
		q += ` AND status = ?`
		args = append(args, opts.Status)
	}
	q += ` ORDER BY due_date ASC, created_at ASC LIMIT ?;`
	args = append(args, opts.Limit)

	rows, err := d.Pool.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Assignment{}
	for rows.Next() {
		var (
			a             domain.Assignment
			courseID      sql.NullString
			due, createdS string
		)
		if err := rows.Scan(&a.ID, &a.AccountID, &courseID, &a.Title, &a.Description, &due, &a.Status, &a.SourceID, &createdS); err != nil {
			return nil, err
		}
		if courseID.Valid {
			id := courseID.String
			a.CourseID = &id
		}
		a.DueDate = parseTime(due)
		a.CreatedAt = parseTime(createdS)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *DB) CountAssignments(ctx context.Context, accountID string) (int, error) {
	var n int
	err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE account_id = ?;`, accountID).Scan(&n)
	return n, err
}
