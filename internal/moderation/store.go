package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// taskColumns is the column list every task query selects, in scanTask order.
const taskColumns = `task_id, listing_id, status, is_violation, probability, error_message, created_at, processed_at`

// TaskStore persists moderation tasks in PostgreSQL. Terminal transitions
// are guarded UPDATEs: Complete applies only over pending or completed rows
// and Fail only over pending or failed rows, so at-least-once redelivery can
// refresh a terminal row but never flip it to the other terminal state.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a task store backed by the given database handle.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.ListingID, &t.Status,
		&t.IsViolation, &t.Probability, &t.ErrorMessage,
		&t.CreatedAt, &t.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertPending creates a pending task for the listing and returns it with
// its assigned id.
func (s *TaskStore) InsertPending(ctx context.Context, listingID int64) (*Task, error) {
	const query = `
		INSERT INTO moderation_tasks (task_id, listing_id, status)
		VALUES ($1, $2, 'pending')
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, uuid.New(), listingID))
	if err != nil {
		return nil, fmt.Errorf("moderation: insert task: %w", err)
	}
	return t, nil
}

// Complete marks the task completed with the verdict. Returns nil when the
// task does not exist or has already failed; reapplying a completion over a
// completed row refreshes it with identical values.
func (s *TaskStore) Complete(ctx context.Context, taskID uuid.UUID, isViolation bool, probability float64) (*Task, error) {
	const query = `
		UPDATE moderation_tasks
		SET status = 'completed', is_violation = $2, probability = $3, processed_at = NOW()
		WHERE task_id = $1 AND status IN ('pending', 'completed')
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, taskID, isViolation, probability))
	if err != nil {
		return nil, fmt.Errorf("moderation: complete task %s: %w", taskID, err)
	}
	return t, nil
}

// Fail marks the task failed with the error message. Returns nil when the
// task does not exist or has already completed.
func (s *TaskStore) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) (*Task, error) {
	const query = `
		UPDATE moderation_tasks
		SET status = 'failed', error_message = $2, processed_at = NOW()
		WHERE task_id = $1 AND status IN ('pending', 'failed')
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, taskID, errorMessage))
	if err != nil {
		return nil, fmt.Errorf("moderation: fail task %s: %w", taskID, err)
	}
	return t, nil
}

// Get fetches a task by id. Returns nil if it does not exist.
func (s *TaskStore) Get(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM moderation_tasks
		WHERE task_id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		return nil, fmt.Errorf("moderation: get task %s: %w", taskID, err)
	}
	return t, nil
}

// DeleteByListing removes every task for the listing and returns the
// deleted ids so callers can invalidate their cache entries.
func (s *TaskStore) DeleteByListing(ctx context.Context, listingID int64) ([]uuid.UUID, error) {
	const query = `
		DELETE FROM moderation_tasks
		WHERE listing_id = $1
		RETURNING task_id`

	rows, err := s.db.QueryContext(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("moderation: delete tasks for listing %d: %w", listingID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("moderation: delete tasks for listing %d: %w", listingID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("moderation: delete tasks for listing %d: %w", listingID, err)
	}
	return ids, nil
}
