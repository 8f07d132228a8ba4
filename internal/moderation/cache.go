package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradepost/moderation/internal/metrics"
	"github.com/tradepost/moderation/internal/scoring"
)

// Cache lifetimes. The per-listing verdict must pick up listing edits and
// seller verification changes quickly; the per-feature verdict only drifts
// when the model is redeployed; terminal task results never change, the TTL
// just bounds Redis memory spent on results nobody re-reads.
const (
	listingVerdictTTL = 10 * time.Minute
	featureVerdictTTL = 60 * time.Minute
	taskResultTTL     = 30 * time.Minute
)

// Keyspace labels for cache metrics.
const (
	keyspaceListing  = "item"
	keyspaceFeatures = "features"
	keyspaceResult   = "result"
)

func listingVerdictKey(listingID int64) string {
	return fmt.Sprintf("predict:item:%d", listingID)
}

// featureVerdictKey encodes the verified flag as 0/1 and the description by
// its length. Two descriptions of equal length collide and share a verdict;
// length is the only feature derived from the text, so the collision is
// accepted for the hit rate it buys.
func featureVerdictKey(f scoring.FeatureVector) string {
	verified := 0
	if f.VerifiedSeller {
		verified = 1
	}
	return fmt.Sprintf("predict:features:%d:%d:%d:%d", verified, f.ImagesQty, f.DescriptionLength, f.Category)
}

func taskResultKey(taskID uuid.UUID) string {
	return fmt.Sprintf("moderation:result:%s", taskID)
}

// TaskResult is the client-facing projection of a task, cached under the
// per-task keyspace once the task is terminal.
type TaskResult struct {
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status"`
	IsViolation *bool    `json:"is_violation"`
	Probability *float64 `json:"probability"`
}

// KV is the cache-store surface the prediction cache needs. Satisfied by
// *cache.Store.
type KV interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PredictionCache keeps scoring verdicts and terminal task results in the
// cache store. Every method is fail-open: cache errors are logged and
// reported as misses or skipped writes, never returned, so the pipeline
// keeps working against the durable stores when the cache is down.
type PredictionCache struct {
	kv  KV
	log zerolog.Logger
}

// NewPredictionCache creates a prediction cache over the given store.
func NewPredictionCache(kv KV, log zerolog.Logger) *PredictionCache {
	return &PredictionCache{kv: kv, log: log}
}

// ListingVerdict returns the cached verdict for a listing, if present.
func (p *PredictionCache) ListingVerdict(ctx context.Context, listingID int64) (scoring.Verdict, bool) {
	var v scoring.Verdict
	ok := p.get(ctx, keyspaceListing, listingVerdictKey(listingID), &v)
	return v, ok
}

// SetListingVerdict caches the verdict for a listing.
func (p *PredictionCache) SetListingVerdict(ctx context.Context, listingID int64, v scoring.Verdict) {
	p.set(ctx, keyspaceListing, listingVerdictKey(listingID), v, listingVerdictTTL)
}

// DeleteListingVerdict drops the cached verdict for a listing. Deleting an
// absent key is a no-op.
func (p *PredictionCache) DeleteListingVerdict(ctx context.Context, listingID int64) {
	p.delete(ctx, keyspaceListing, listingVerdictKey(listingID))
}

// FeatureVerdict returns the cached verdict for a feature vector, if present.
func (p *PredictionCache) FeatureVerdict(ctx context.Context, f scoring.FeatureVector) (scoring.Verdict, bool) {
	var v scoring.Verdict
	ok := p.get(ctx, keyspaceFeatures, featureVerdictKey(f), &v)
	return v, ok
}

// SetFeatureVerdict caches the verdict for a feature vector.
func (p *PredictionCache) SetFeatureVerdict(ctx context.Context, f scoring.FeatureVector, v scoring.Verdict) {
	p.set(ctx, keyspaceFeatures, featureVerdictKey(f), v, featureVerdictTTL)
}

// TaskResult returns the cached terminal result for a task, if present.
func (p *PredictionCache) TaskResult(ctx context.Context, taskID uuid.UUID) (TaskResult, bool) {
	var r TaskResult
	ok := p.get(ctx, keyspaceResult, taskResultKey(taskID), &r)
	return r, ok
}

// SetTaskResult caches a terminal task result. Pending results are skipped:
// they flip within seconds and caching them would only serve stale answers.
func (p *PredictionCache) SetTaskResult(ctx context.Context, r TaskResult) {
	if r.Status == StatusPending {
		return
	}
	id, err := uuid.Parse(r.TaskID)
	if err != nil {
		p.log.Warn().Str("task_id", r.TaskID).Msg("cache set skipped: bad task id")
		return
	}
	p.set(ctx, keyspaceResult, taskResultKey(id), r, taskResultTTL)
}

// DeleteTaskResult drops the cached result for a task.
func (p *PredictionCache) DeleteTaskResult(ctx context.Context, taskID uuid.UUID) {
	p.delete(ctx, keyspaceResult, taskResultKey(taskID))
}

func (p *PredictionCache) get(ctx context.Context, keyspace, key string, dest any) bool {
	ok, err := p.kv.Get(ctx, key, dest)
	if err != nil {
		metrics.CacheRequests.WithLabelValues(keyspace, "error").Inc()
		p.log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		return false
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues(keyspace, "miss").Inc()
		return false
	}
	metrics.CacheRequests.WithLabelValues(keyspace, "hit").Inc()
	p.log.Debug().Str("key", key).Msg("cache hit")
	return true
}

func (p *PredictionCache) set(ctx context.Context, keyspace, key string, value any, ttl time.Duration) {
	if err := p.kv.Set(ctx, key, value, ttl); err != nil {
		metrics.CacheRequests.WithLabelValues(keyspace, "error").Inc()
		p.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return
	}
	p.log.Debug().Str("key", key).Msg("cache set")
}

func (p *PredictionCache) delete(ctx context.Context, keyspace, key string) {
	if err := p.kv.Delete(ctx, key); err != nil {
		metrics.CacheRequests.WithLabelValues(keyspace, "error").Inc()
		p.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
		return
	}
	p.log.Debug().Str("key", key).Msg("cache delete")
}
