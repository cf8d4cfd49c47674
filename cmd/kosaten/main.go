package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/config"
	"github.com/komanai/kosaten/internal/db"
	dbRedis "github.com/komanai/kosaten/internal/db/redis"
	logpkg "github.com/komanai/kosaten/internal/logger"
	"github.com/komanai/kosaten/internal/metrics"
	"github.com/komanai/kosaten/internal/repository/centercache"
	chiTransport "github.com/komanai/kosaten/internal/transport/chi"
	"github.com/komanai/kosaten/internal/transport/nominatim"
	"github.com/komanai/kosaten/internal/transport/overpass"
	"github.com/komanai/kosaten/internal/transport/supabase"
	healthuc "github.com/komanai/kosaten/internal/usecase/health"
	indexeruc "github.com/komanai/kosaten/internal/usecase/indexer"
	searchuc "github.com/komanai/kosaten/internal/usecase/search"
	"github.com/komanai/kosaten/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting kosaten API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("cache_url", cfg.Cache.BaseURL),
	)

	// Optional key-value store for geocode center caching
	var store db.Store
	if len(cfg.Redis.Addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer store.Close()

		ctx := context.Background()
		if err := store.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Redis not ready", zap.Error(err))
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))
	}

	// Upstream clients
	cacheClient, err := supabase.NewClient(supabase.Config{
		BaseURL:    cfg.Cache.BaseURL,
		ServiceKey: cfg.Cache.ServiceKey,
		Table:      cfg.Cache.Table,
		Timeout:    time.Duration(cfg.Cache.TimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create cache client", zap.Error(err))
	}

	geocoder := buildGeocoder(cfg, store, logger)

	featureClient := overpass.NewClient(overpass.Config{
		BaseURL: cfg.Features.BaseURL,
		Timeout: time.Duration(cfg.Features.TimeoutSec) * time.Second,
	}, logger)

	// Use case services
	searchSvc := searchuc.New(cacheClient, geocoder, featureClient, logger).
		WithNearExactRadius(cfg.Search.NearExactRadiusM).
		WithNearPartialRadius(cfg.Search.NearPartialRadiusM).
		WithPartialLimit(cfg.Search.PartialLimit).
		WithEnrichLimit(cfg.Search.EnrichLimit).
		WithBackfillTimeout(time.Duration(cfg.Search.BackfillTimeoutSec) * time.Second)

	indexerSvc := indexeruc.New(cacheClient, geocoder, featureClient, logger).
		WithRadius(cfg.Indexer.RadiusM)

	// Pass nil interface (not typed nil pointer!) if no store is configured.
	var storePinger healthuc.StorePinger
	if store != nil {
		storePinger = store
	}
	healthSvc := healthuc.New(cacheClient, storePinger)

	server := chiTransport.NewServer(searchSvc, indexerSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildGeocoder assembles the geocoder chain: Nominatim -> Cached.
func buildGeocoder(cfg config.Config, store db.Store, logger *zap.Logger) searchuc.Geocoder {
	base := nominatim.NewClient(nominatim.Config{
		BaseURL: cfg.Geocoder.BaseURL,
		Timeout: time.Duration(cfg.Geocoder.TimeoutSec) * time.Second,
	}, logger)

	if store == nil {
		return base
	}
	return centercache.NewCachedGeocoder(base, store, logger).
		WithTTL(time.Duration(cfg.Redis.CenterTTLHours) * time.Hour)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
