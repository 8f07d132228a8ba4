package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradepost/moderation/internal/cache"
	"github.com/tradepost/moderation/internal/config"
	"github.com/tradepost/moderation/internal/listing"
	"github.com/tradepost/moderation/internal/logging"
	"github.com/tradepost/moderation/internal/messaging"
	"github.com/tradepost/moderation/internal/metrics"
	"github.com/tradepost/moderation/internal/moderation"
	"github.com/tradepost/moderation/internal/scoring"
	"github.com/tradepost/moderation/internal/storage"
)

func main() {
	log := logging.New("moderation-worker")
	env := config.NewLoader("WORKER")

	metricsAddr := env.String("METRICS_ADDR", ":9090")
	redisAddr := env.String("REDIS_ADDR", "localhost:6379")
	durable := env.String("CONSUMER_DURABLE", "moderation-workers")
	ackWait := env.Duration("ACK_WAIT", 30*time.Second)
	retryDelay := env.Duration("RETRY_DELAY", moderation.DefaultBaseDelay)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	storageCfg := storage.DefaultConfig()
	storageCfg.DSN = env.String("DATABASE_DSN", storageCfg.DSN)

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = env.String("NATS_URL", natsCfg.URL)
	natsCfg.Name = "moderation-worker"

	// --- PostgreSQL ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := storage.Open(ctx, storageCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// --- NATS ---
	natsClient, err := messaging.NewClient(natsCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	if err := natsClient.EnsureStream(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure stream")
	}
	consumer, err := natsClient.ConsumeTasks(ctx, durable, ackWait)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}
	cancel()

	predictionCache := moderation.NewPredictionCache(cache.NewStore(rdb), log)
	worker := moderation.NewWorker(
		listing.NewStore(db),
		moderation.NewTaskStore(db),
		predictionCache,
		scoring.NewLogisticEngine(),
		natsClient,
		retryDelay,
		log,
	)

	// Metrics and liveness listener.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()

	log.Info().
		Str("metrics_addr", metricsAddr).
		Str("redis_addr", redisAddr).
		Str("nats_url", natsCfg.URL).
		Str("durable", durable).
		Dur("ack_wait", ackWait).
		Dur("retry_delay", retryDelay).
		Msg("moderation worker starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal, draining")
		consumer.Stop()
	}()

	// Run drains after Stop: the in-flight task finishes its terminal write
	// before the loop exits, so the run context is never cancelled.
	worker.Run(context.Background(), consumer)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics listener shutdown")
	}

	natsClient.Close()
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close")
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("postgres close")
	}
	log.Info().Msg("moderation worker stopped")
}
