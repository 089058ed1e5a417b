// Command gql-cache-proxy is a caching reverse proxy for a GraphQL server.
// Allow-listed queries are cached in Redis; concurrent identical queries are
// computed once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/gql-response-cache/pkg/cache"
	"github.com/Sternrassler/gql-response-cache/pkg/client"
	"github.com/Sternrassler/gql-response-cache/pkg/config"
	"github.com/Sternrassler/gql-response-cache/pkg/logging"
	"github.com/Sternrassler/gql-response-cache/pkg/metrics"
	"github.com/Sternrassler/gql-response-cache/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Error().Err(err).Msg("Proxy failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(cfg.Log)
	logger := logging.NewLogger("proxy")

	redisClient := redis.NewClient(cfg.RedisOptions())
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.ConnectTimeout)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.RedisOptions().Addr, err)
	}
	logger.Info().Str("addr", cfg.RedisOptions().Addr).Msg("Connected to Redis")

	upstream, err := client.New(cfg.Client())
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	coordinator := cache.NewCoordinator(cache.NewRedisStore(redisClient), cfg.Coordinator())

	if budget := cfg.RequestBudget(); cfg.WriteTimeout() < budget {
		logger.Warn().
			Dur("write_timeout", cfg.WriteTimeout()).
			Dur("request_budget", budget).
			Msg("Write timeout is shorter than a worst-case request; slow computations will be cut off")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newMux(middleware.New(coordinator), upstream, redisClient),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("upstream", cfg.Upstream.URL).
			Int("rules", len(cfg.Entries)).
			Msg("Starting GraphQL cache proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newMux wires the proxy routes.
func newMux(mw *middleware.Middleware, upstream http.Handler, redisClient redis.Cmdable) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", mw.Wrap(upstream))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports ready while the cache store answers.
func readyHandler(redisClient redis.Cmdable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}
