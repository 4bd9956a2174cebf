package domain

import "time"

const StatusPending = "pending"

// Assignment is one task materialized from a course notification email.
// CourseID is nil when no registered course matched the extracted name.
type Assignment struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	CourseID    *string   `json:"courseId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"dueDate"`
	Status      string    `json:"status"`   // pending/...
	SourceID    string    `json:"sourceId"` // hash of account + transport identity, used for dedupe
	CreatedAt   time.Time `json:"createdAt"`
}

type ExtractionResult struct {
	Course *string
	Due    *time.Time
}
