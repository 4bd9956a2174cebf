package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursemail-engine/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "coursemail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "coursemail.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)

	var v int
	require.NoError(t, db.Pool.QueryRow(`PRAGMA user_version;`).Scan(&v))
	assert.Equal(t, schemaVersion, v)
	require.NoError(t, db.Close())

	// reopening an existing file is a no-op migration
	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	n, err := db.CountAssignments(context.Background(), "acct")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAccountUpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetAccount(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.UpsertAccount(ctx, Account{ID: "a1", Username: "114921039", Host: "mail.nccu.edu.tw"}))
	require.NoError(t, db.UpsertAccount(ctx, Account{ID: "a1", Username: "114921039", Host: "imap.example.org", Port: 1993}))

	a, err := db.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "imap.example.org", a.Host)
	assert.Equal(t, 1993, a.Port)
	assert.False(t, a.CreatedAt.IsZero())

	assert.Error(t, db.UpsertAccount(ctx, Account{ID: " "}))
}

func TestAddCourseIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c1, err := db.AddCourse(ctx, "a1", "資料結構")
	require.NoError(t, err)
	c2, err := db.AddCourse(ctx, "a1", " 資料結構 ")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	other, err := db.AddCourse(ctx, "a2", "資料結構")
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, other.ID)

	list, err := db.ListCourses(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = db.AddCourse(ctx, "a1", "")
	assert.Error(t, err)
}

func TestFindCourseByNameContainment(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	db.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Hour) }

	first, err := db.AddCourse(ctx, "a1", "資料結構 (一)")
	require.NoError(t, err)
	_, err = db.AddCourse(ctx, "a1", "進階資料結構")
	require.NoError(t, err)
	_, err = db.AddCourse(ctx, "a1", "Compilers")
	require.NoError(t, err)

	c, ok, err := db.FindCourseByName(ctx, "a1", "資料結構")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, c.ID)

	_, ok, err = db.FindCourseByName(ctx, "a1", "compilers")
	require.NoError(t, err)
	assert.False(t, ok, "containment is case-sensitive")

	_, ok, err = db.FindCourseByName(ctx, "a2", "資料結構")
	require.NoError(t, err)
	assert.False(t, ok, "other accounts' courses never match")

	_, ok, err = db.FindCourseByName(ctx, "a1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertAssignmentDedupesBySource(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	due := time.Date(2025, 11, 20, 23, 59, 0, 0, time.FixedZone("CST", 8*3600))
	a := domain.Assignment{
		AccountID: "a1",
		Title:     "[資料結構] 作業一",
		DueDate:   due,
		SourceID:  "src-1",
	}

	added, err := db.InsertAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = db.InsertAssignment(ctx, a)
	require.NoError(t, err)
	assert.False(t, added)

	// rows without a source id are never deduplicated
	a.SourceID = ""
	for i := 0; i < 2; i++ {
		added, err = db.InsertAssignment(ctx, a)
		require.NoError(t, err)
		assert.True(t, added)
	}

	n, err := db.CountAssignments(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := db.ListAssignments(ctx, "a1", ListAssignmentsOpts{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].DueDate.Equal(due))
	assert.Equal(t, domain.StatusPending, list[0].Status)
	assert.Nil(t, list[0].CourseID)
}

func TestInsertAssignmentRejectsIncomplete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertAssignment(ctx, domain.Assignment{AccountID: "a1", Title: "x"})
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))

	_, err = db.InsertAssignment(ctx, domain.Assignment{AccountID: "a1", DueDate: time.Now()})
	require.True(t, errors.As(err, &pe))
}

func TestInsertAssignmentUnknownCourseFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	missing := "no-such-course"
	_, err := db.InsertAssignment(ctx, domain.Assignment{
		AccountID: "a1", Title: "t", DueDate: time.Now(), CourseID: &missing,
	})
	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
}

func TestListAssignmentsOrderAndCourse(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c, err := db.AddCourse(ctx, "a1", "演算法")
	require.NoError(t, err)

	later := time.Date(2025, 12, 1, 8, 30, 0, 0, time.UTC)
	sooner := time.Date(2025, 11, 1, 8, 30, 0, 500, time.UTC)
	_, err = db.InsertAssignment(ctx, domain.Assignment{AccountID: "a1", Title: "later", DueDate: later, CourseID: &c.ID})
	require.NoError(t, err)
	_, err = db.InsertAssignment(ctx, domain.Assignment{AccountID: "a1", Title: "sooner", DueDate: sooner})
	require.NoError(t, err)

	list, err := db.ListAssignments(ctx, "a1", ListAssignmentsOpts{Status: domain.StatusPending, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sooner", list[0].Title)
	assert.True(t, list[0].DueDate.Equal(sooner))
	require.NotNil(t, list[1].CourseID)
	assert.Equal(t, c.ID, *list[1].CourseID)

	list, err = db.ListAssignments(ctx, "a1", ListAssignmentsOpts{Status: "done"})
	require.NoError(t, err)
	assert.Empty(t, list)
}
