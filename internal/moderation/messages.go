package moderation

import (
	"context"
	"time"
)

// TaskMessage is the payload published to the task-intake subject. The
// producer always publishes RetryCount 0; retries happen inside the worker,
// so the message is never republished with a bumped count.
type TaskMessage struct {
	TaskID     string    `json:"task_id"`
	ListingID  int64     `json:"listing_id"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeadLetterMessage wraps a task message that could not be processed, for
// offline inspection and replay.
type DeadLetterMessage struct {
	OriginalMessage TaskMessage `json:"original_message"`
	Error           string      `json:"error"`
	RetryCount      int         `json:"retry_count"`
	Timestamp       time.Time   `json:"timestamp"`
}

// TaskPublisher publishes task-intake messages. Satisfied by
// *messaging.Client.
type TaskPublisher interface {
	PublishTask(ctx context.Context, data []byte) error
}

// DeadLetterPublisher publishes dead-letter messages. Satisfied by
// *messaging.Client.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, data []byte) error
}
