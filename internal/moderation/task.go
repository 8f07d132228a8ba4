// Package moderation implements the asynchronous listing-moderation
// pipeline: task intake, the durable task records, the Redis caches in
// front of them, and the worker that scores queued listings.
package moderation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Task statuses. A task starts pending and moves exactly once into a
// terminal state; completed and failed are never left.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Sentinel errors surfaced to callers of the service layer.
var (
	ErrListingNotFound = errors.New("moderation: listing not found")
	ErrTaskNotFound    = errors.New("moderation: task not found")
)

// Task is one moderation request for a listing. IsViolation and Probability
// are set only on completion, ErrorMessage only on failure; the guarded
// status transitions in TaskStore keep the two sets mutually exclusive.
type Task struct {
	ID           uuid.UUID
	ListingID    int64
	Status       string
	IsViolation  *bool
	Probability  *float64
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// Result projects the task into the shape served to clients and cached
// under the per-task keyspace.
func (t *Task) Result() TaskResult {
	return TaskResult{
		TaskID:      t.ID.String(),
		Status:      t.Status,
		IsViolation: t.IsViolation,
		Probability: t.Probability,
	}
}
