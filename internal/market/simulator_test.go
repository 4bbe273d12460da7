package market

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bollysensex/trading-engine/internal/keylock"
	"github.com/bollysensex/trading-engine/internal/model"
	"github.com/bollysensex/trading-engine/internal/pricing"
	"github.com/bollysensex/trading-engine/internal/store"
)

func seedMovie(t *testing.T, st store.Store, id, price string) *model.Movie {
	t.Helper()
	p := decimal.RequireFromString(price)
	m := &model.Movie{
		ID:              id,
		Symbol:          id,
		Title:           id,
		CurrentPrice:    p,
		InitialPrice:    p,
		TotalShares:     10000,
		AvailableShares: 10000,
	}
	require.NoError(t, st.CreateMovie(context.Background(), m))
	return m
}

func TestTickMovesPricesWithinBounds(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedMovie(t, st, "AAA", "100.00")
	seedMovie(t, st, "BBB", "250.00")

	engine := pricing.NewEngine(rand.New(rand.NewSource(1)))
	sim := NewSimulator(st, engine, keylock.New(), time.Second, nil)

	before := map[string]decimal.Decimal{}
	movies, err := st.ListMovies(ctx)
	require.NoError(t, err)
	for _, m := range movies {
		before[m.ID] = m.CurrentPrice
	}

	sim.Tick(ctx)

	movies, err = st.ListMovies(ctx)
	require.NoError(t, err)
	for _, m := range movies {
		prev := before[m.ID]
		// Each step stays within the random-walk band, plus rounding slack.
		lo := prev.Mul(decimal.NewFromFloat(0.98)).Sub(decimal.NewFromFloat(0.01))
		hi := prev.Mul(decimal.NewFromFloat(1.02)).Add(decimal.NewFromFloat(0.01))
		assert.True(t, m.CurrentPrice.GreaterThanOrEqual(lo), "%s dropped to %s from %s", m.Symbol, m.CurrentPrice, prev)
		assert.True(t, m.CurrentPrice.LessThanOrEqual(hi), "%s jumped to %s from %s", m.Symbol, m.CurrentPrice, prev)
		assert.LessOrEqual(t, int(-m.CurrentPrice.Exponent()), 2, "%s not rounded to paise", m.Symbol)
	}
}

func TestTickNeverBreachesFloor(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	m := seedMovie(t, st, "CCC", "100.00")
	// Park the price just above the 10.00 floor.
	require.NoError(t, st.SetPrice(ctx, m.ID, decimal.RequireFromString("10.05"), decimal.Zero, decimal.Zero))

	engine := pricing.NewEngine(rand.New(rand.NewSource(3)))
	sim := NewSimulator(st, engine, keylock.New(), time.Second, nil)

	floor := decimal.RequireFromString("10.00")
	for i := 0; i < 200; i++ {
		sim.Tick(ctx)
	}
	got, err := st.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.GreaterThanOrEqual(floor), "price %s fell below floor", got.CurrentPrice)
}

// flakyStore fails GetMovie for one movie to simulate a partial pass.
type flakyStore struct {
	store.Store
	failID string
}

func (f *flakyStore) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	if id == f.failID {
		return nil, errors.New("boom")
	}
	return f.Store.GetMovie(ctx, id)
}

func TestTickContinuesPastFailingMovie(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	bad := seedMovie(t, mem, "BAD", "100.00")
	good := seedMovie(t, mem, "GOOD", "100.00")

	st := &flakyStore{Store: mem, failID: bad.ID}
	engine := pricing.NewEngine(rand.New(rand.NewSource(9)))

	var updated []string
	sim := NewSimulator(st, engine, keylock.New(), time.Second, func(m *model.Movie, _ pricing.Quote) {
		updated = append(updated, m.ID)
	})

	sim.Tick(ctx)

	assert.Equal(t, []string{good.ID}, updated, "the healthy movie should still tick")
}

func TestRunStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	engine := pricing.NewEngine(rand.New(rand.NewSource(5)))
	sim := NewSimulator(st, engine, keylock.New(), 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop after cancel")
	}
}

func TestTickBroadcastsQuotes(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	m := seedMovie(t, st, "DDD", "100.00")

	engine := pricing.NewEngine(rand.New(rand.NewSource(11)))

	var quotes []pricing.Quote
	var snapshots []model.Movie
	sim := NewSimulator(st, engine, keylock.New(), time.Second, func(m *model.Movie, q pricing.Quote) {
		quotes = append(quotes, q)
		snapshots = append(snapshots, *m)
	})
	sim.Tick(ctx)

	require.Len(t, quotes, 1)
	stored, err := st.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPrice.Equal(quotes[0].Price))
	assert.True(t, stored.ChangePercent.Equal(quotes[0].ChangePercent))

	// The movie handed to the callback reflects the stored tick, not the
	// pre-tick snapshot.
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].CurrentPrice.Equal(quotes[0].Price),
		"callback movie price %s, stored %s", snapshots[0].CurrentPrice, quotes[0].Price)
	assert.True(t, snapshots[0].Change.Equal(quotes[0].Change))
}
