// Package market runs the background price simulator: a recurring pass
// over every movie applying a small random walk, so prices keep moving
// even without trading pressure.
package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/bollysensex/trading-engine/internal/keylock"
	"github.com/bollysensex/trading-engine/internal/metrics"
	"github.com/bollysensex/trading-engine/internal/model"
	"github.com/bollysensex/trading-engine/internal/pricing"
	"github.com/bollysensex/trading-engine/internal/store"
)

// UpdateFunc is called after each successful price write, e.g. to
// broadcast over WebSocket.
type UpdateFunc func(movie *model.Movie, quote pricing.Quote)

// Simulator periodically applies a random-walk tick to every movie. It
// shares the per-movie locks with the order executor, so a tick never
// computes a price from a movie state an in-flight trade is mutating.
type Simulator struct {
	store      store.Store
	ledger     store.Store // cache-bypassing view for lock-held reads
	engine     *pricing.Engine
	movieLocks *keylock.KeyedMutex
	interval   time.Duration
	onUpdate   UpdateFunc // optional
}

// NewSimulator creates a simulator. onUpdate may be nil.
func NewSimulator(st store.Store, engine *pricing.Engine, movieLocks *keylock.KeyedMutex, interval time.Duration, onUpdate UpdateFunc) *Simulator {
	return &Simulator{
		store:      st,
		ledger:     store.Uncached(st),
		engine:     engine,
		movieLocks: movieLocks,
		interval:   interval,
		onUpdate:   onUpdate,
	}
}

// Run ticks until ctx is cancelled. Per-movie failures are logged and
// skipped; a failed tick never terminates the loop.
func (s *Simulator) Run(ctx context.Context) {
	slog.Info("market simulator started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("market simulator stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick applies one random-walk step to every movie. Movies are
// independent: an error on one is counted and logged, and the pass moves
// on to the next.
func (s *Simulator) Tick(ctx context.Context) {
	movies, err := s.store.ListMovies(ctx)
	if err != nil {
		metrics.SimulatorErrors.Inc()
		slog.Error("simulator: list movies failed", "err", err)
		return
	}

	for i := range movies {
		if err := s.tickMovie(ctx, movies[i].ID); err != nil {
			metrics.SimulatorErrors.Inc()
			slog.Error("simulator: tick failed", "movie", movies[i].ID, "symbol", movies[i].Symbol, "err", err)
		}
	}

	metrics.SimulatorTicks.Inc()
}

func (s *Simulator) tickMovie(ctx context.Context, movieID string) error {
	s.movieLocks.Lock(movieID)
	defer s.movieLocks.Unlock(movieID)

	// Re-read under the lock, bypassing any cache layer: the listing
	// snapshot may be stale by now, and a racing cache fill could be too.
	movie, err := s.ledger.GetMovie(ctx, movieID)
	if err != nil {
		return err
	}

	quote := s.engine.OnTick(movie.CurrentPrice, movie.InitialPrice)
	if err := s.store.SetPrice(ctx, movie.ID, quote.Price, quote.Change, quote.ChangePercent); err != nil {
		return err
	}
	metrics.PriceUpdates.WithLabelValues("tick").Inc()

	if s.onUpdate != nil {
		// The snapshot predates the write; patch it so consumers see the
		// price that was just stored.
		movie.CurrentPrice = quote.Price
		movie.Change = quote.Change
		movie.ChangePercent = quote.ChangePercent
		s.onUpdate(movie, quote)
	}
	return nil
}
