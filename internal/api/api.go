// Package api exposes the moderation pipeline over HTTP: synchronous
// prediction, task intake, result reads, and listing closure, plus the
// health and metrics endpoints.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradepost/moderation/internal/metrics"
	"github.com/tradepost/moderation/internal/moderation"
	"github.com/tradepost/moderation/internal/scoring"
)

// Moderation is the service surface the HTTP layer calls. Satisfied by
// *moderation.Service.
type Moderation interface {
	EnqueueTask(ctx context.Context, listingID int64) (*moderation.Task, error)
	Result(ctx context.Context, taskID uuid.UUID) (moderation.TaskResult, error)
	PredictByFeatures(ctx context.Context, features scoring.FeatureVector) (scoring.Verdict, error)
	PredictByListing(ctx context.Context, listingID int64) (scoring.Verdict, error)
	CloseListing(ctx context.Context, listingID int64) error
}

// API holds the handlers and their dependencies.
type API struct {
	svc      Moderation
	validate *validator.Validate
	log      zerolog.Logger
}

// New creates the API. The validator reports fields by their json tag names
// so validation messages match the wire format.
func New(svc Moderation, log zerolog.Logger) *API {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		return tag
	})
	return &API{svc: svc, validate: v, log: log}
}

// Router builds the route table.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log))

	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/predict", a.predict)
	r.Post("/simple_predict", a.simplePredict)
	r.Post("/async_predict", a.asyncPredict)
	r.Get("/moderation_result/{task_id}", a.moderationResult)
	r.Post("/close", a.closeListing)

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
