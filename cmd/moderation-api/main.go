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

	"github.com/tradepost/moderation/internal/api"
	"github.com/tradepost/moderation/internal/cache"
	"github.com/tradepost/moderation/internal/config"
	"github.com/tradepost/moderation/internal/listing"
	"github.com/tradepost/moderation/internal/logging"
	"github.com/tradepost/moderation/internal/messaging"
	"github.com/tradepost/moderation/internal/moderation"
	"github.com/tradepost/moderation/internal/scoring"
	"github.com/tradepost/moderation/internal/storage"
)

func main() {
	log := logging.New("moderation-api")
	env := config.NewLoader("API")

	listenAddr := env.String("LISTEN_ADDR", ":8080")
	redisAddr := env.String("REDIS_ADDR", "localhost:6379")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	storageCfg := storage.DefaultConfig()
	storageCfg.DSN = env.String("DATABASE_DSN", storageCfg.DSN)

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = env.String("NATS_URL", natsCfg.URL)
	natsCfg.Name = "moderation-api"

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
	cancel()

	predictionCache := moderation.NewPredictionCache(cache.NewStore(rdb), log)
	svc := moderation.NewService(
		listing.NewStore(db),
		moderation.NewTaskStore(db),
		predictionCache,
		scoring.NewLogisticEngine(),
		natsClient,
		log,
	)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           api.New(svc, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().
		Str("listen_addr", listenAddr).
		Str("redis_addr", redisAddr).
		Str("nats_url", natsCfg.URL).
		Msg("moderation api starting")

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	natsClient.Close()
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close")
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("postgres close")
	}
	log.Info().Msg("moderation api stopped")
}
