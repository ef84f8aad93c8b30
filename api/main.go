package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/eventdash/analytics/pkg/clickhouse"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/postgres"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	"github.com/malbeclabs/eventdash/api/config"
	"github.com/malbeclabs/eventdash/api/handlers"
	"github.com/malbeclabs/eventdash/api/metrics"
	"github.com/malbeclabs/eventdash/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// shuttingDown is set when a shutdown signal is received so the readiness probe
	// fails immediately.
	shuttingDown atomic.Bool
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// pinger is a dependency the readiness probe checks.
type pinger func(ctx context.Context) error

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv, ".env", "api/.env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.Verbose)
	log.Info("eventdash-api starting", "version", version, "commit", commit, "date", date, "backend", cfg.Backend)
	handlers.SetBuildInfo(version, commit, date)

	if cfg.SentryDSN != "" {
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		tracesSampleRate := 0.1
		if cfg.SentryEnvironment == "development" {
			tracesSampleRate = 1.0
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
		}); err != nil {
			log.Warn("sentry initialization failed", "error", err)
		} else {
			log.Info("sentry initialized", "env", cfg.SentryEnvironment, "release", release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mainPool, err := postgres.NewPool(ctx, cfg.MainPool())
	if err != nil {
		return fmt.Errorf("failed to connect to main database: %w", err)
	}
	defer mainPool.Close()
	if cfg.MigrationsEnable {
		if err := postgres.RunMainMigrations(ctx, log, mainPool); err != nil {
			return err
		}
	}
	ready := []pinger{mainPool.Ping}

	var store eventlog.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		eventsPool := mainPool
		if cfg.EventsDatabaseURL != cfg.MainDatabaseURL {
			eventsPool, err = postgres.NewPool(ctx, cfg.EventsPool())
			if err != nil {
				return fmt.Errorf("failed to connect to events database: %w", err)
			}
			defer eventsPool.Close()
			ready = append(ready, eventsPool.Ping)
		}
		if cfg.MigrationsEnable {
			if err := postgres.RunEventMigrations(ctx, log, eventsPool); err != nil {
				return err
			}
		}
		store, err = postgres.NewStore(postgres.StoreConfig{Logger: log, DB: eventsPool})
		if err != nil {
			return fmt.Errorf("failed to create postgres store: %w", err)
		}
	case config.BackendClickHouse:
		if cfg.MigrationsEnable {
			if err := clickhouse.RunMigrations(ctx, log, cfg.ClickHouse); err != nil {
				return err
			}
		}
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer conn.Close()
		ready = append(ready, conn.Ping)
		store, err = clickhouse.NewStore(clickhouse.StoreConfig{Logger: log, DB: conn})
		if err != nil {
			return fmt.Errorf("failed to create clickhouse store: %w", err)
		}
	}

	clock := clockwork.NewRealClock()
	dirCfg := refdata.DirectoryConfig{
		Logger: log,
		Source: refdata.NewPostgresSource(mainPool),
		TTL:    cfg.RefdataTTL,
		Clock:  clock,
	}
	redisClient, err := refdata.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		dirCfg.Cache = refdata.NewRedisCache(redisClient)
		log.Info("reference cache using redis", "addr", cfg.Redis.Addr)
	}
	directory, err := refdata.NewDirectory(dirCfg)
	if err != nil {
		return fmt.Errorf("failed to create reference directory: %w", err)
	}

	engine, err := query.NewEngine(query.EngineConfig{Logger: log, Store: store, Clock: clock})
	if err != nil {
		return fmt.Errorf("failed to create query engine: %w", err)
	}
	api, err := handlers.New(handlers.Config{
		Logger:       log,
		Engine:       engine,
		Directory:    directory,
		Resolver:     timerange.NewResolver(clock),
		QueryTimeout: cfg.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	metricsServer := startMetricsServer(log, cfg.MetricsAddr)

	r := newRouter(cfg, log, api, ready)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-shutdown:
		log.Info("received signal, shutting down gracefully", "signal", sig)
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown error", "error", err)
	} else {
		log.Info("server stopped gracefully")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", "error", err)
		}
	}
	return nil
}

func startMetricsServer(log *slog.Logger, addr string) *http.Server {
	if addr == "" {
		return nil
	}
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("failed to start prometheus metrics server listener", "error", err)
		return nil
	}
	log.Info("prometheus metrics server listening", "addr", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func newRouter(cfg *config.Config, log *slog.Logger, api *handlers.API, ready []pinger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)

	// Sentry goes before Recoverer so panics are captured first.
	if cfg.SentryDSN != "" {
		sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
		r.Use(sentryHandler.Handle)
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
					if rctx := chi.RouteContext(r.Context()); rctx != nil {
						if pattern := rctx.RoutePattern(); pattern != "" {
							txn.Name = r.Method + " " + pattern
						} else {
							txn.Name = r.Method + " " + r.URL.Path
						}
					}
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shutting down"))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for _, ping := range ready {
			if err := ping(ctx); err != nil {
				log.Warn("readiness check failed", "error", handlers.SanitizeError(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("database connection failed"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	api.Routes(r)
	return r
}
