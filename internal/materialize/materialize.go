// Package materialize turns course notification mail into assignment rows.
package materialize

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"coursemail-engine/internal/domain"
	"coursemail-engine/internal/extract"
	"coursemail-engine/internal/mailclient"
	"coursemail-engine/internal/metrics"
)

const maxDescriptionRunes = 1000

type Store interface {
	FindCourseByName(ctx context.Context, accountID, fragment string) (domain.Course, bool, error)
	InsertAssignment(ctx context.Context, a domain.Assignment) (bool, error)
}

// MarkReader flags a message as seen. *mailclient.Session implements it.
type MarkReader interface {
	MarkRead(ctx context.Context, uid uint32) error
}

type Deps struct {
	Store   Store
	Rules   Rules
	Extract *extract.Engine
	Logger  *slog.Logger
}

// Result summarizes one Process call. Processed counts messages that
// reached the persist step; Created counts rows actually written.
type Result struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`

	// ConnErr is the first connection-class failure from MarkRead, if any.
	// The batch still runs to the end.
	ConnErr error `json:"-"`
}

type Materializer struct {
	store Store
	rules Rules
	ext   *extract.Engine
	log   *slog.Logger
}

func New(d Deps) *Materializer {
	ext := d.Extract
	if ext == nil {
		ext = extract.New()
	}
	lg := d.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Materializer{
		store: d.Store,
		rules: d.Rules,
		ext:   ext,
		log:   lg.With("component", "materialize"),
	}
}

func (m *Materializer) Rules() Rules { return m.rules }

// Process handles msgs in order. Errors on a single message are logged and
// counted; they never stop the batch.
func (m *Materializer) Process(ctx context.Context, reader MarkReader, msgs []domain.RawMessage, accountID string) Result {
	var res Result
	for _, msg := range msgs {
		rule, ok := m.rules.Match(msg)
		if !ok {
			res.Skipped++
			metrics.Messages.WithLabelValues("filtered").Inc()
			m.log.Debug("message filtered", "uid", msg.UID, "subject", msg.Subject)
			continue
		}

		a := m.build(ctx, msg, accountID)

		res.Processed++
		metrics.Messages.WithLabelValues("processed").Inc()

		added, err := m.store.InsertAssignment(ctx, a)
		switch {
		case err != nil:
			res.Failed++
			metrics.Messages.WithLabelValues("failed").Inc()
			m.log.Error("persist assignment", "uid", msg.UID, "title", a.Title, "error", err)
			// Leave it unseen so the next pass retries.
			continue
		case !added:
			res.Duplicates++
			metrics.Messages.WithLabelValues("duplicate").Inc()
			m.log.Info("assignment already recorded", "uid", msg.UID, "source", a.SourceID)
		default:
			res.Created++
			metrics.Messages.WithLabelValues("created").Inc()
			m.log.Info("assignment created",
				"uid", msg.UID,
				"category", rule.Category,
				"title", a.Title,
				"due", a.DueDate,
				"course", a.CourseID != nil,
			)
		}

		if reader == nil {
			continue
		}
		if err := reader.MarkRead(ctx, msg.UID); err != nil {
			switch {
			case mailclient.IsNotFound(err):
				m.log.Warn("mark read: message gone", "uid", msg.UID)
			case mailclient.IsConnection(err):
				if res.ConnErr == nil {
					res.ConnErr = err
				}
				m.log.Error("mark read", "uid", msg.UID, "error", err)
			default:
				m.log.Error("mark read", "uid", msg.UID, "error", err)
			}
		}
	}
	return res
}

func (m *Materializer) build(ctx context.Context, msg domain.RawMessage, accountID string) domain.Assignment {
	ex := m.ext.Extract(msg.Subject, msg.Body)

	due := extract.DefaultDueDate(m.ext.Now())
	if ex.Due != nil {
		due = *ex.Due
	}

	var courseID *string
	if ex.Course != nil {
		c, ok, err := m.store.FindCourseByName(ctx, accountID, *ex.Course)
		if err != nil {
			m.log.Warn("course lookup", "course", *ex.Course, "error", err)
		} else if ok {
			id := c.ID
			courseID = &id
		}
	}

	return domain.Assignment{
		AccountID:   accountID,
		CourseID:    courseID,
		Title:       extract.CleanSubject(msg.Subject),
		Description: truncateRunes(msg.Body, maxDescriptionRunes),
		DueDate:     due,
		Status:      domain.StatusPending,
		SourceID:    SourceID(accountID, msg),
	}
}

// SourceID identifies a message per account across passes: the
// Message-Id header when present, the transport UID otherwise.
func SourceID(accountID string, msg domain.RawMessage) string {
	key := strings.TrimSpace(msg.MessageID)
	if key == "" {
		key = fmt.Sprintf("uid:%d", msg.UID)
	}
	sum := sha1.Sum([]byte(accountID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
