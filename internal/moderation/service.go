package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradepost/moderation/internal/listing"
	"github.com/tradepost/moderation/internal/scoring"
)

// Listings is the listing-store surface the pipeline reads. Satisfied by
// *listing.Store.
type Listings interface {
	Get(ctx context.Context, id int64) (*listing.Listing, error)
	GetWithSeller(ctx context.Context, id int64) (*listing.WithSeller, error)
	MarkClosed(ctx context.Context, id int64) (bool, error)
}

// Tasks is the task-store surface shared by the producer, the result reads,
// and the worker. Satisfied by *TaskStore.
type Tasks interface {
	InsertPending(ctx context.Context, listingID int64) (*Task, error)
	Complete(ctx context.Context, taskID uuid.UUID, isViolation bool, probability float64) (*Task, error)
	Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) (*Task, error)
	Get(ctx context.Context, taskID uuid.UUID) (*Task, error)
	DeleteByListing(ctx context.Context, listingID int64) ([]uuid.UUID, error)
}

// Service exposes the moderation pipeline to the HTTP layer: synchronous
// scoring, task intake, result reads, and the closure protocol.
type Service struct {
	listings  Listings
	tasks     Tasks
	cache     *PredictionCache
	engine    scoring.Engine
	publisher TaskPublisher
	log       zerolog.Logger
}

// NewService wires the service from its collaborators.
func NewService(listings Listings, tasks Tasks, cache *PredictionCache, engine scoring.Engine, publisher TaskPublisher, log zerolog.Logger) *Service {
	return &Service{
		listings:  listings,
		tasks:     tasks,
		cache:     cache,
		engine:    engine,
		publisher: publisher,
		log:       log,
	}
}

// EnqueueTask creates a pending task for the listing and publishes the task
// message. The row is durably inserted before the publish, so a consumer can
// never see a task id that does not resolve in the store. Returns
// ErrListingNotFound when the listing does not exist.
func (s *Service) EnqueueTask(ctx context.Context, listingID int64) (*Task, error) {
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrListingNotFound
	}

	task, err := s.tasks.InsertPending(ctx, listingID)
	if err != nil {
		return nil, err
	}

	msg := TaskMessage{
		TaskID:     task.ID.String(),
		ListingID:  listingID,
		RetryCount: 0,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("moderation: marshal task message: %w", err)
	}
	if err := s.publisher.PublishTask(ctx, data); err != nil {
		return nil, fmt.Errorf("moderation: publish task %s: %w", task.ID, err)
	}

	s.log.Info().
		Str("task_id", task.ID.String()).
		Int64("listing_id", listingID).
		Msg("moderation task enqueued")
	return task, nil
}

// Result returns the task's current result, cache-first. A terminal result
// read from the store is cached on the way out; pending results are returned
// but never cached. Returns ErrTaskNotFound when the task never existed.
func (s *Service) Result(ctx context.Context, taskID uuid.UUID) (TaskResult, error) {
	if cached, ok := s.cache.TaskResult(ctx, taskID); ok {
		return cached, nil
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return TaskResult{}, err
	}
	if task == nil {
		return TaskResult{}, ErrTaskNotFound
	}

	res := task.Result()
	s.cache.SetTaskResult(ctx, res)
	return res, nil
}

// PredictByFeatures scores a raw feature vector, consulting the per-feature
// cache first.
func (s *Service) PredictByFeatures(ctx context.Context, features scoring.FeatureVector) (scoring.Verdict, error) {
	if v, ok := s.cache.FeatureVerdict(ctx, features); ok {
		return v, nil
	}

	v, err := s.engine.Score(ctx, features)
	if err != nil {
		return scoring.Verdict{}, err
	}

	s.cache.SetFeatureVerdict(ctx, features, v)
	return v, nil
}

// PredictByListing scores a stored listing, consulting the per-listing cache
// first. Returns ErrListingNotFound when the listing does not exist.
func (s *Service) PredictByListing(ctx context.Context, listingID int64) (scoring.Verdict, error) {
	if v, ok := s.cache.ListingVerdict(ctx, listingID); ok {
		return v, nil
	}

	ls, err := s.listings.GetWithSeller(ctx, listingID)
	if err != nil {
		return scoring.Verdict{}, err
	}
	if ls == nil {
		return scoring.Verdict{}, ErrListingNotFound
	}

	features := scoring.FeaturesFor(ls.VerifiedSeller, ls.ImagesQty, ls.Description, ls.Category)
	v, err := s.engine.Score(ctx, features)
	if err != nil {
		return scoring.Verdict{}, err
	}

	s.cache.SetListingVerdict(ctx, listingID, v)
	return v, nil
}

// CloseListing marks the listing closed, deletes its moderation tasks, and
// invalidates the per-listing verdict plus the per-task result for every
// deleted task. All cache deletions are delete-if-present. Returns
// ErrListingNotFound when the listing does not exist or was already closed.
func (s *Service) CloseListing(ctx context.Context, listingID int64) error {
	closed, err := s.listings.MarkClosed(ctx, listingID)
	if err != nil {
		return err
	}
	if !closed {
		return ErrListingNotFound
	}

	taskIDs, err := s.tasks.DeleteByListing(ctx, listingID)
	if err != nil {
		return err
	}

	s.cache.DeleteListingVerdict(ctx, listingID)
	for _, id := range taskIDs {
		s.cache.DeleteTaskResult(ctx, id)
	}

	s.log.Info().
		Int64("listing_id", listingID).
		Int("tasks_deleted", len(taskIDs)).
		Msg("listing closed")
	return nil
}
