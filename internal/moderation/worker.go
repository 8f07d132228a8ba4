package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tradepost/moderation/internal/messaging"
	"github.com/tradepost/moderation/internal/metrics"
	"github.com/tradepost/moderation/internal/scoring"
)

// MaxAttempts bounds the scoring attempts per consumed message.
const MaxAttempts = 3

// DefaultBaseDelay is the backoff unit between attempts; the delay before
// attempt n is the base delay doubled n-1 times.
const DefaultBaseDelay = 5 * time.Second

// TaskSource yields task deliveries. Satisfied by *messaging.TaskConsumer.
type TaskSource interface {
	Next() (messaging.Delivery, error)
	Stop()
}

// Worker consumes task messages and runs each through the
// fetch-score-persist-cache cycle. Transient errors (fetch or scoring
// failures) are retried with exponential backoff up to MaxAttempts; a
// missing listing is permanent and goes straight to the dead-letter
// subject. Store calls check a connection out of the pool per call, so
// nothing is held across the backoff sleep.
type Worker struct {
	listings   Listings
	tasks      Tasks
	cache      *PredictionCache
	engine     scoring.Engine
	deadLetter DeadLetterPublisher
	log        zerolog.Logger

	baseDelay time.Duration
	sleep     func(time.Duration)
}

// NewWorker wires the worker from its collaborators. A non-positive
// baseDelay falls back to DefaultBaseDelay.
func NewWorker(listings Listings, tasks Tasks, cache *PredictionCache, engine scoring.Engine, deadLetter DeadLetterPublisher, baseDelay time.Duration, log zerolog.Logger) *Worker {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Worker{
		listings:   listings,
		tasks:      tasks,
		cache:      cache,
		engine:     engine,
		deadLetter: deadLetter,
		log:        log,
		baseDelay:  baseDelay,
		sleep:      time.Sleep,
	}
}

// Run consumes deliveries until the source is stopped. Each message is fully
// handled before the next is pulled, and acked only after terminal handling,
// so redelivery covers crashes and ack loss; the idempotent terminal writes
// absorb those replays.
func (w *Worker) Run(ctx context.Context, source TaskSource) {
	w.log.Info().Msg("worker consuming tasks")
	for {
		delivery, err := source.Next()
		if err != nil {
			if errors.Is(err, messaging.ErrConsumerStopped) {
				w.log.Info().Msg("task consumer stopped")
			} else {
				w.log.Error().Err(err).Msg("task consumer failed")
			}
			return
		}

		var msg TaskMessage
		if err := json.Unmarshal(delivery.Data(), &msg); err != nil {
			w.log.Error().Err(err).Msg("undecodable task message")
		} else {
			w.ProcessTask(ctx, msg)
		}

		if err := delivery.Ack(); err != nil {
			w.log.Warn().Err(err).Str("task_id", msg.TaskID).Msg("ack failed, message may be redelivered")
		}
	}
}

// ProcessTask runs one task message through the moderation cycle. Every
// outcome is terminal from the broker's perspective: completed tasks,
// permanently failed tasks, and exhausted retries all end with the task row
// updated and, for failures, a dead-letter message published.
func (w *Worker) ProcessTask(ctx context.Context, msg TaskMessage) {
	timer := prometheus.NewTimer(metrics.TaskDuration)
	defer timer.ObserveDuration()
	metrics.InflightTasks.Inc()
	defer metrics.InflightTasks.Dec()

	taskID, err := uuid.Parse(msg.TaskID)
	if err != nil {
		w.log.Error().Str("task_id", msg.TaskID).Msg("poison message: unparseable task id")
		return
	}

	log := w.log.With().Str("task_id", msg.TaskID).Int64("listing_id", msg.ListingID).Logger()

	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := w.baseDelay << (attempt - 1)
			log.Warn().Err(lastErr).Dur("delay", delay).Int("next_attempt", attempt+1).Msg("transient error, retrying")
			metrics.TaskRetries.Inc()
			w.sleep(delay)
		}

		log.Info().Int("attempt", attempt+1).Int("max_attempts", MaxAttempts).Msg("processing task")

		ls, err := w.listings.GetWithSeller(ctx, msg.ListingID)
		if err != nil {
			lastErr = err
			continue
		}
		if ls == nil {
			// Listing deleted or never existed; retrying cannot help.
			errMsg := fmt.Sprintf("listing %d not found", msg.ListingID)
			log.Error().Msg("listing not found, failing task")
			w.failTask(ctx, log, taskID, errMsg)
			w.publishDeadLetter(ctx, log, msg, errMsg, attempt+1)
			metrics.TasksProcessed.WithLabelValues("failed_permanent").Inc()
			return
		}

		features := scoring.FeaturesFor(ls.VerifiedSeller, ls.ImagesQty, ls.Description, ls.Category)
		verdict, err := w.engine.Score(ctx, features)
		if err != nil {
			lastErr = err
			continue
		}

		isViolation := !verdict.IsValid
		updated, err := w.tasks.Complete(ctx, taskID, isViolation, verdict.Probability)
		if err != nil {
			// The verdict exists but could not be persisted. Not retried;
			// surfaced for operators as a lost state transition.
			log.Error().Err(err).Msg("lost terminal transition: complete failed")
			metrics.LostTerminalWrites.Inc()
			return
		}
		if updated == nil {
			// Row deleted (listing closed mid-flight) or already failed.
			log.Warn().Msg("completion not applied, skipping cache")
			return
		}

		w.cache.SetListingVerdict(ctx, msg.ListingID, verdict)
		w.cache.SetTaskResult(ctx, updated.Result())

		log.Info().Bool("is_violation", isViolation).Float64("probability", verdict.Probability).Msg("task completed")
		metrics.TasksProcessed.WithLabelValues("completed").Inc()
		return
	}

	errMsg := lastErr.Error()
	log.Error().Int("max_attempts", MaxAttempts).Str("error", errMsg).Msg("attempts exhausted, failing task")
	w.failTask(ctx, log, taskID, errMsg)
	w.publishDeadLetter(ctx, log, msg, errMsg, MaxAttempts)
	metrics.TasksProcessed.WithLabelValues("failed_exhausted").Inc()
}

func (w *Worker) failTask(ctx context.Context, log zerolog.Logger, taskID uuid.UUID, errMsg string) {
	updated, err := w.tasks.Fail(ctx, taskID, errMsg)
	if err != nil {
		log.Error().Err(err).Msg("lost terminal transition: fail failed")
		metrics.LostTerminalWrites.Inc()
		return
	}
	if updated == nil {
		log.Warn().Msg("failure not applied")
	}
}

func (w *Worker) publishDeadLetter(ctx context.Context, log zerolog.Logger, msg TaskMessage, errMsg string, retryCount int) {
	dlm := DeadLetterMessage{
		OriginalMessage: msg,
		Error:           errMsg,
		RetryCount:      retryCount,
		Timestamp:       time.Now().UTC(),
	}
	data, err := json.Marshal(dlm)
	if err != nil {
		log.Error().Err(err).Msg("marshal dead letter")
		return
	}
	if err := w.deadLetter.PublishDeadLetter(ctx, data); err != nil {
		log.Error().Err(err).Msg("lost dead letter publish")
		metrics.LostTerminalWrites.Inc()
		return
	}
	metrics.DeadLetters.Inc()
	log.Info().Int("retry_count", retryCount).Str("error", errMsg).Msg("task dead-lettered")
}
