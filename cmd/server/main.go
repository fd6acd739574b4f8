// Quiz battle server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/quiz-battle/internal/api"
	"github.com/ashureev/quiz-battle/internal/battle"
	"github.com/ashureev/quiz-battle/internal/clock"
	"github.com/ashureev/quiz-battle/internal/config"
	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/identity"
	"github.com/ashureev/quiz-battle/internal/live"
	"github.com/ashureev/quiz-battle/internal/middleware"
	"github.com/ashureev/quiz-battle/internal/probe"
	"github.com/ashureev/quiz-battle/internal/question"
	"github.com/ashureev/quiz-battle/internal/shared"
	"github.com/ashureev/quiz-battle/internal/store"
	"github.com/ashureev/quiz-battle/internal/sweep"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	bank, err := question.DefaultBank()
	if err != nil {
		return err
	}
	encounters, err := battle.DefaultEncounters()
	if err != nil {
		return err
	}

	clk := clock.Real()
	var provider question.Provider
	if cfg.Question.APIURL != "" {
		provider = question.NewHTTPProvider(cfg.Question.APIURL, cfg.Question.Timeout, cfg.Question.RatePerMinute)
		slog.Info("Question generator enabled", "url", cfg.Question.APIURL)
	} else {
		slog.Info("Question generator disabled, serving the built-in bank")
	}
	loader := question.NewLoader(provider, bank,
		question.WithRetry(cfg.Question.MaxAttempts, cfg.Question.RetryDelay),
		question.WithClock(clk),
		question.WithLogger(logger),
	)

	hub := live.NewHub()
	battles := battle.NewManager(battle.Options{
		Player:           domain.Stats{MaxHP: cfg.Battle.PlayerMaxHP, Attack: cfg.Battle.PlayerAttack},
		Opponent:         domain.Stats{MaxHP: cfg.Battle.OpponentMaxHP, Attack: cfg.Battle.OpponentAttack},
		CounterAttack:    cfg.Battle.CounterAttack,
		CounterDelay:     cfg.Battle.CounterDelay,
		TerminationDelay: cfg.Battle.TerminationDelay,
		EndDelay:         cfg.Battle.EndDelay,
	}, encounters, battle.Deps{
		Loader:  loader,
		State:   repo,
		Results: repo,
		Sink:    hub,
		Clock:   clk,
		Logger:  logger,
	})

	baseHandler := api.NewHandler(repo, battles, clk)
	battleHandler := api.NewBattleHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)
	wsHandler := live.NewWebSocketHandler(repo, battles, hub, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins(), identity.SessionHeaderName))

	healthHandler.RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		battleHandler.RegisterRoutes(r)
		r.Get("/ws/battle", wsHandler.ServeHTTP)
	})

	// WebSocket streams are long lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	sweep.NewWorker(battles, repo, cfg.SessionTTL).Start(gctx)

	var health *probe.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		health = probe.New(repo, cfg.Timeout.HealthCheck, logger)
		go health.Watch(gctx)
		g.Go(func() error { return health.Serve(lis) })
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if health != nil {
			health.Stop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(cfg *config.Config) (store.Repository, error) {
	if cfg.DBPath == store.MemoryPath {
		slog.Warn("Using in-memory store, battle state will not survive a restart")
		return store.NewMemory(), nil
	}
	return store.NewSQLite(cfg.DBPath, shared.RetryPolicy{
		MaxRetries: cfg.Retry.DatabaseMaxRetries,
		BaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
	})
}
