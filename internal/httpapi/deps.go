package httpapi

import (
	"context"
	"log/slog"
	"sync/atomic"

	"coursemail-engine/internal/config"
	"coursemail-engine/internal/domain"
	"coursemail-engine/internal/events"
	"coursemail-engine/internal/materialize"
	"coursemail-engine/internal/store"
	"coursemail-engine/internal/watcher"
)

type Store interface {
	ListAssignments(ctx context.Context, accountID string, opts store.ListAssignmentsOpts) ([]domain.Assignment, error)
	ListCourses(ctx context.Context, accountID string) ([]domain.Course, error)
	AddCourse(ctx context.Context, accountID, name string) (domain.Course, error)
	Checkpoint(ctx context.Context) error
}

// Watcher is the part of *watcher.Watcher the API drives.
type Watcher interface {
	Status() watcher.Status
	Trigger() bool
	CheckNow(ctx context.Context) (materialize.Result, bool, error)
}

type Deps struct {
	AccountID string

	Store   Store
	Watcher Watcher
	Hub     *events.Hub
	Logger  *slog.Logger

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// SetPassword stores the mailbox password; defaults to the OS keychain.
	SetPassword func(keyringAccount, password string) error
}
