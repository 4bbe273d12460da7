package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bollysensex/trading-engine/internal/catalog"
	"github.com/bollysensex/trading-engine/internal/config"
	"github.com/bollysensex/trading-engine/internal/keylock"
	"github.com/bollysensex/trading-engine/internal/market"
	"github.com/bollysensex/trading-engine/internal/metrics"
	"github.com/bollysensex/trading-engine/internal/model"
	"github.com/bollysensex/trading-engine/internal/pricing"
	"github.com/bollysensex/trading-engine/internal/store"
	"github.com/bollysensex/trading-engine/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		mem := store.NewMemoryStore()
		if cfg.SeedMovies > 0 {
			if _, err := catalog.Seed(context.Background(), mem, nil, cfg.SeedMovies); err != nil {
				slog.Error("seeding movies failed", "err", err)
				os.Exit(1)
			}
			slog.Info("seeded movies", "count", cfg.SeedMovies)
		}
		st = mem
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Locks shared by order execution and the simulator ---
	userLocks := keylock.New()
	movieLocks := keylock.New()

	engine := pricing.NewEngine(nil)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(st, engine, userLocks, movieLocks, wsHub, cfg.StartingBalance)

	// --- Market simulator ---
	simCtx, stopSim := context.WithCancel(context.Background())
	defer stopSim()

	sim := market.NewSimulator(st, engine, movieLocks, cfg.TickInterval, func(m *model.Movie, q pricing.Quote) {
		wsHub.Broadcast(trade.WSMessage{
			Type:          "tick",
			MovieID:       m.ID,
			Symbol:        m.Symbol,
			Price:         q.Price.String(),
			Change:        q.Change.String(),
			ChangePercent: q.ChangePercent.String(),
		})
	})
	go sim.Run(simCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Users.
		r.Post("/users", tradeSvc.HandleRegister)
		r.Get("/users/{userID}", tradeSvc.HandleGetUser)
		r.Get("/users/{userID}/transactions", tradeSvc.HandleTransactions)

		// Movie catalog.
		r.Get("/movies", tradeSvc.HandleListMovies)
		r.Post("/movies", tradeSvc.HandleCreateMovie)
		r.Get("/movies/{movieID}", tradeSvc.HandleGetMovie)

		// Order execution.
		r.Post("/orders", tradeSvc.HandlePlaceOrder)

		// Portfolio and market queries.
		r.Get("/portfolio/{userID}", tradeSvc.HandlePortfolio)
		r.Get("/market/trending", tradeSvc.HandleTrending)
		r.Get("/market/stats", tradeSvc.HandleMarketStats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSim()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
