package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bollysensex/trading-engine/internal/keylock"
	"github.com/bollysensex/trading-engine/internal/model"
	"github.com/bollysensex/trading-engine/internal/pricing"
	"github.com/bollysensex/trading-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	engine := pricing.NewEngine(rand.New(rand.NewSource(42)))
	svc := NewService(st, engine, keylock.New(), keylock.New(), nil, d("100000"))
	return svc, st
}

func seedUser(t *testing.T, st store.Store, balance string) *model.User {
	t.Helper()
	u := &model.User{
		ID:        uuid.New().String(),
		Name:      "tester",
		Balance:   d(balance),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func seedMovie(t *testing.T, st store.Store, symbol, price string, total, available int64) *model.Movie {
	t.Helper()
	m := &model.Movie{
		ID:              "movie-" + symbol,
		Symbol:          symbol,
		Title:           symbol,
		CurrentPrice:    d(price),
		InitialPrice:    d(price),
		TotalShares:     total,
		AvailableShares: available,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, st.CreateMovie(context.Background(), m))
	return m
}

func TestPlaceOrderBuy(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "SHOLAY", "200.00", 100000, 100000)

	tx, err := svc.PlaceOrder(ctx, OrderRequest{
		UserID:   user.ID,
		MovieID:  movie.ID,
		Side:     "buy",
		Quantity: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, model.SideBuy, tx.Side)
	assert.Equal(t, int64(100), tx.Quantity)
	assert.True(t, tx.Price.Equal(d("200.00")), "price %s", tx.Price)
	assert.True(t, tx.Amount.Equal(d("20000.00")), "amount %s", tx.Amount)

	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("80000.00")), "balance %s", u.Balance)

	m, err := st.GetMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99900), m.AvailableShares)
	assert.Equal(t, int64(100), m.Volume)
	// 100 of 100000 shares is 0.1% volume, halved to a 0.05% bump.
	assert.True(t, m.CurrentPrice.Equal(d("200.10")), "price %s", m.CurrentPrice)

	h, err := st.GetHolding(ctx, user.ID, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.Quantity)
	assert.True(t, h.AvgPrice.Equal(d("200.00")))
}

func TestPlaceOrderSellRoundTrip(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "DDLJ", "200.00", 100000, 100000)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100})
	require.NoError(t, err)

	// Sell the whole position at the post-buy price of 200.10.
	tx, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "sell", Quantity: 100})
	require.NoError(t, err)
	assert.True(t, tx.Price.Equal(d("200.10")), "price %s", tx.Price)
	assert.True(t, tx.Amount.Equal(d("20010.00")), "amount %s", tx.Amount)

	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("100010.00")), "balance %s", u.Balance)

	m, err := st.GetMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), m.AvailableShares)
	assert.Equal(t, int64(200), m.Volume)

	holdings, err := st.ListHoldings(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	// The position is gone; another sell must be rejected.
	_, err = svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "sell", Quantity: 1})
	assert.ErrorIs(t, err, model.ErrInsufficientHoldings)
}

func TestPlaceOrderLimitPrice(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "LAGAAN", "200.00", 100000, 100000)

	limit := d("150.50")
	tx, err := svc.PlaceOrder(ctx, OrderRequest{
		UserID:     user.ID,
		MovieID:    movie.ID,
		Side:       "buy",
		Quantity:   10,
		OrderType:  model.OrderLimit,
		LimitPrice: &limit,
	})
	require.NoError(t, err)
	assert.True(t, tx.Price.Equal(d("150.50")))
	assert.True(t, tx.Amount.Equal(d("1505.00")))

	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("98495.00")), "balance %s", u.Balance)
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "SWADES", "100.00", 50000, 50000)

	cases := map[string]struct {
		req  OrderRequest
		want error
	}{
		"bad side": {
			OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "hold", Quantity: 1},
			ErrInvalidSide,
		},
		"bad order type": {
			OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 1, OrderType: "stop"},
			ErrInvalidOrderType,
		},
		"limit without price": {
			OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 1, OrderType: model.OrderLimit},
			ErrMissingLimit,
		},
		"zero quantity": {
			OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 0},
			model.ErrInvalidQuantity,
		},
		"negative quantity": {
			OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "sell", Quantity: -5},
			model.ErrInvalidQuantity,
		},
		"unknown movie": {
			OrderRequest{UserID: user.ID, MovieID: "nope", Side: "buy", Quantity: 1},
			model.ErrMovieNotFound,
		},
		"unknown user buy": {
			OrderRequest{UserID: "nope", MovieID: movie.ID, Side: "buy", Quantity: 1},
			model.ErrUserNotFound,
		},
		"unknown user sell": {
			OrderRequest{UserID: "nope", MovieID: movie.ID, Side: "sell", Quantity: 1},
			model.ErrUserNotFound,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.PlaceOrder(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPlaceOrderInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100")
	movie := seedMovie(t, st, "GUIDE", "200.00", 100000, 100000)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 10})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("100")))

	m, err := st.GetMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), m.AvailableShares)
	assert.Equal(t, int64(0), m.Volume)
	assert.True(t, m.CurrentPrice.Equal(d("200.00")))
}

func TestPlaceOrderInsufficientSharesRollsBackDebit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "DON", "10.00", 100000, 5)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 10})
	assert.ErrorIs(t, err, model.ErrInsufficientShares)

	// The debit must have been credited back.
	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("100000")), "balance %s", u.Balance)

	holdings, err := st.ListHoldings(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

// faultStore injects failures into individual store primitives to
// exercise the order unwind paths.
type faultStore struct {
	store.Store
	failVolume  bool
	failInsert  bool
	failCredit  bool
	failRelease bool
}

var errStoreDown = errors.New("store unavailable")

func (f *faultStore) RecordVolume(ctx context.Context, movieID string, qty int64) error {
	if f.failVolume && qty > 0 {
		return errStoreDown
	}
	return f.Store.RecordVolume(ctx, movieID, qty)
}

func (f *faultStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	if f.failInsert {
		return errStoreDown
	}
	return f.Store.InsertTransaction(ctx, tx)
}

func (f *faultStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if f.failCredit {
		return errStoreDown
	}
	return f.Store.Credit(ctx, userID, amount)
}

func (f *faultStore) ReleaseShares(ctx context.Context, movieID string, qty int64) error {
	if f.failRelease {
		return errStoreDown
	}
	return f.Store.ReleaseShares(ctx, movieID, qty)
}

func newFaultService(t *testing.T) (*Service, *faultStore, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	fs := &faultStore{Store: mem}
	engine := pricing.NewEngine(rand.New(rand.NewSource(42)))
	svc := NewService(fs, engine, keylock.New(), keylock.New(), nil, d("100000"))
	return svc, fs, mem
}

func assertUntouched(t *testing.T, st store.Store, userID, movieID string, balance string, available, volume int64) {
	t.Helper()
	ctx := context.Background()

	u, err := st.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d(balance)), "balance = %s, want %s", u.Balance, balance)

	m, err := st.GetMovie(ctx, movieID)
	require.NoError(t, err)
	assert.Equal(t, available, m.AvailableShares)
	assert.Equal(t, volume, m.Volume)

	n, err := st.CountTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "failed orders must not reach the ledger")
}

func TestBuyVolumeFailureUnwindsEverything(t *testing.T) {
	svc, fs, mem := newFaultService(t)
	user := seedUser(t, mem, "100000")
	movie := seedMovie(t, mem, "JAWAN", "200.00", 100000, 100000)
	fs.failVolume = true

	_, err := svc.PlaceOrder(context.Background(), OrderRequest{
		UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100,
	})
	require.ErrorIs(t, err, errStoreDown)

	assertUntouched(t, mem, user.ID, movie.ID, "100000", 100000, 0)
	_, err = mem.GetHolding(context.Background(), user.ID, movie.ID)
	assert.ErrorIs(t, err, model.ErrHoldingNotFound)
}

func TestBuyLedgerAppendFailureUnwindsEverything(t *testing.T) {
	svc, fs, mem := newFaultService(t)
	user := seedUser(t, mem, "100000")
	movie := seedMovie(t, mem, "PATHAN", "200.00", 100000, 100000)
	fs.failInsert = true

	_, err := svc.PlaceOrder(context.Background(), OrderRequest{
		UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100,
	})
	require.ErrorIs(t, err, errStoreDown)

	assertUntouched(t, mem, user.ID, movie.ID, "100000", 100000, 0)
	_, err = mem.GetHolding(context.Background(), user.ID, movie.ID)
	assert.ErrorIs(t, err, model.ErrHoldingNotFound)
}

func TestBuyUnwindRestoresPriorAveragePrice(t *testing.T) {
	svc, fs, mem := newFaultService(t)
	ctx := context.Background()
	user := seedUser(t, mem, "100000")
	movie := seedMovie(t, mem, "DEVDAS", "200.00", 100000, 100000)

	// Establish a position at 200.00, then fail a second fill at the
	// moved price.
	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100})
	require.NoError(t, err)
	fs.failInsert = true

	_, err = svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100})
	require.ErrorIs(t, err, errStoreDown)

	h, err := mem.GetHolding(ctx, user.ID, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.Quantity)
	assert.True(t, h.AvgPrice.Equal(d("200.00")), "avg = %s, want prior 200.00", h.AvgPrice)

	u, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("80000.00")), "balance = %s, want post-first-buy 80000.00", u.Balance)
}

func TestSellCreditFailureRestoresHolding(t *testing.T) {
	svc, fs, mem := newFaultService(t)
	ctx := context.Background()
	user := seedUser(t, mem, "100000")
	movie := seedMovie(t, mem, "OMKARA", "200.00", 100000, 100000)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100})
	require.NoError(t, err)
	fs.failCredit = true

	_, err = svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "sell", Quantity: 40})
	require.ErrorIs(t, err, errStoreDown)

	h, err := mem.GetHolding(ctx, user.ID, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.Quantity, "failed sell must restore the position")
	assert.True(t, h.AvgPrice.Equal(d("200.00")))

	u, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("80000.00")))
}

func TestSellLedgerAppendFailureUnwindsEverything(t *testing.T) {
	svc, fs, mem := newFaultService(t)
	ctx := context.Background()
	user := seedUser(t, mem, "100000")
	movie := seedMovie(t, mem, "ROCKY", "200.00", 100000, 100000)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100})
	require.NoError(t, err)
	fs.failInsert = true

	_, err = svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "sell", Quantity: 100})
	require.ErrorIs(t, err, errStoreDown)

	// Everything back to the post-buy state: position intact, cash
	// unchanged, shares still reserved, volume only from the buy.
	h, err := mem.GetHolding(ctx, user.ID, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.Quantity)

	u, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(d("80000.00")), "balance = %s", u.Balance)

	m, err := mem.GetMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99900), m.AvailableShares)
	assert.Equal(t, int64(100), m.Volume)

	n, err := mem.CountTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the successful buy may appear in the ledger")
}

func TestConcurrentBuysLastShares(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	movie := seedMovie(t, st, "RACE", "100.00", 100000, 50)

	u1 := seedUser(t, st, "100000")
	u2 := seedUser(t, st, "100000")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uid := range []string{u1.ID, u2.ID} {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(ctx, OrderRequest{UserID: uid, MovieID: movie.ID, Side: "buy", Quantity: 50})
		}(i, uid)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, model.ErrInsufficientShares)
			rejected++
		}
	}
	assert.Equal(t, 1, ok, "exactly one order should fill")
	assert.Equal(t, 1, rejected)

	m, err := st.GetMovie(ctx, movie.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.AvailableShares)
}

func TestPortfolio(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "ZNMD", "200.00", 100000, 100000)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 100})
	require.NoError(t, err)

	p, err := svc.Portfolio(ctx, user.ID)
	require.NoError(t, err)

	require.Len(t, p.Items, 1)
	item := p.Items[0]
	assert.Equal(t, "ZNMD", item.Symbol)
	assert.Equal(t, int64(100), item.Quantity)
	assert.True(t, item.AvgPrice.Equal(d("200.00")))
	assert.True(t, item.CurrentPrice.Equal(d("200.10")))
	assert.True(t, item.CurrentValue.Equal(d("20010.00")), "value %s", item.CurrentValue)
	assert.True(t, item.PL.Equal(d("10.00")), "pl %s", item.PL)
	assert.True(t, item.PLPercent.Equal(d("0.05")), "pl%% %s", item.PLPercent)

	assert.True(t, p.Balance.Equal(d("80000.00")))
	assert.True(t, p.TotalValue.Equal(d("20010.00")))
	assert.True(t, p.TotalPL.Equal(d("10.00")))
	assert.True(t, p.TotalAssets.Equal(d("100010.00")), "assets %s", p.TotalAssets)
}

func TestPortfolioUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Portfolio(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestTrending(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	mk := func(symbol, changePct string, volume int64) {
		m := seedMovie(t, st, symbol, "100.00", 10000, 10000)
		require.NoError(t, st.SetPrice(ctx, m.ID, d("100.00"), d("0"), d(changePct)))
		if volume > 0 {
			require.NoError(t, st.RecordVolume(ctx, m.ID, volume))
		}
	}
	mk("AAA", "3.00", 10)
	mk("BBB", "1.50", 500)
	mk("CCC", "-2.00", 100)
	mk("DDD", "-0.50", 0)
	mk("EEE", "0", 9999)

	tr, err := svc.Trending(ctx)
	require.NoError(t, err)

	require.Len(t, tr.Gainers, 2)
	assert.Equal(t, "AAA", tr.Gainers[0].Symbol)
	assert.Equal(t, "BBB", tr.Gainers[1].Symbol)

	require.Len(t, tr.Losers, 2)
	assert.Equal(t, "CCC", tr.Losers[0].Symbol)
	assert.Equal(t, "DDD", tr.Losers[1].Symbol)

	require.NotEmpty(t, tr.VolumeLeaders)
	assert.Equal(t, "EEE", tr.VolumeLeaders[0].Symbol)
	assert.Equal(t, "BBB", tr.VolumeLeaders[1].Symbol)
}

func TestTrendingEmptyMarket(t *testing.T) {
	svc, _ := newTestService(t)
	tr, err := svc.Trending(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tr.Gainers)
	assert.NotNil(t, tr.Losers)
	assert.NotNil(t, tr.VolumeLeaders)
	assert.Empty(t, tr.Gainers)
}

func TestMarketStats(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, st, "100000")
	// Both movies list at a 100000 market cap.
	seedMovie(t, st, "AAA", "100.00", 1000, 1000)
	m := seedMovie(t, st, "BBB", "50.00", 2000, 2000)

	_, err := svc.PlaceOrder(ctx, OrderRequest{UserID: user.ID, MovieID: m.ID, Side: "buy", Quantity: 10})
	require.NoError(t, err)

	stats, err := svc.MarketStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalMovies)
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalTransactions)
	// BBB repriced after the buy: 10/2000 = 0.5% volume, 0.25% bump -> 50.13.
	assert.True(t, stats.TotalMarketCap.Equal(d("200260.00")), "cap %s", stats.TotalMarketCap)
}

func TestRegister(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "Priya")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Priya", u.Name)
	assert.True(t, u.Balance.Equal(d("100000")))

	got, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

// --- HTTP handler tests ---

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/users", svc.HandleRegister)
	r.Get("/api/v1/users/{userID}", svc.HandleGetUser)
	r.Get("/api/v1/users/{userID}/transactions", svc.HandleTransactions)
	r.Get("/api/v1/movies", svc.HandleListMovies)
	r.Post("/api/v1/movies", svc.HandleCreateMovie)
	r.Get("/api/v1/movies/{movieID}", svc.HandleGetMovie)
	r.Post("/api/v1/orders", svc.HandlePlaceOrder)
	r.Get("/api/v1/portfolio/{userID}", svc.HandlePortfolio)
	r.Get("/api/v1/market/trending", svc.HandleTrending)
	r.Get("/api/v1/market/stats", svc.HandleMarketStats)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleRegister(t *testing.T) {
	svc, _ := newTestService(t)
	h := newTestRouter(svc)

	w := doJSON(t, h, http.MethodPost, "/api/v1/users", RegisterRequest{Name: "Arjun"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var u model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.NotEmpty(t, u.ID)
	assert.True(t, u.Balance.Equal(d("100000")))

	// Missing name.
	w = doJSON(t, h, http.MethodPost, "/api/v1/users", RegisterRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateAndGetMovie(t *testing.T) {
	svc, _ := newTestService(t)
	h := newTestRouter(svc)

	w := doJSON(t, h, http.MethodPost, "/api/v1/movies", map[string]any{
		"title":         "3 Idiots",
		"genres":        []string{"Comedy"},
		"initial_price": "250.00",
		"total_shares":  50000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var m model.Movie
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, "3IDIOT", m.Symbol)
	assert.Equal(t, int64(50000), m.AvailableShares)

	w = doJSON(t, h, http.MethodGet, "/api/v1/movies/"+m.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/movies/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Invalid listing.
	w = doJSON(t, h, http.MethodPost, "/api/v1/movies", map[string]any{
		"title":         "",
		"initial_price": "10.00",
		"total_shares":  100,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePlaceOrder(t *testing.T) {
	svc, st := newTestService(t)
	h := newTestRouter(svc)
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "KGF", "200.00", 100000, 100000)

	w := doJSON(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{
		UserID:   user.ID,
		MovieID:  movie.ID,
		Side:     "buy",
		Quantity: 100,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Order placed successfully", resp.Message)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, model.SideBuy, resp.Transaction.Side)

	// Insufficient funds maps to 400.
	w = doJSON(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{
		UserID:   user.ID,
		MovieID:  movie.ID,
		Side:     "buy",
		Quantity: 100000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown movie maps to 404.
	w = doJSON(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{
		UserID:   user.ID,
		MovieID:  "missing",
		Side:     "buy",
		Quantity: 1,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Missing fields.
	w = doJSON(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{MovieID: movie.ID, Side: "buy", Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTransactions(t *testing.T) {
	svc, st := newTestService(t)
	h := newTestRouter(svc)
	user := seedUser(t, st, "100000")
	movie := seedMovie(t, st, "RRR", "10.00", 100000, 100000)

	for i := 0; i < 3; i++ {
		w := doJSON(t, h, http.MethodPost, "/api/v1/orders", OrderRequest{
			UserID: user.ID, MovieID: movie.ID, Side: "buy", Quantity: 1,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/api/v1/users/"+user.ID+"/transactions?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var txs []model.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	assert.Len(t, txs, 2)

	w = doJSON(t, h, http.MethodGet, "/api/v1/users/"+user.ID+"/transactions?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMarketEndpoints(t *testing.T) {
	svc, st := newTestService(t)
	h := newTestRouter(svc)
	seedMovie(t, st, "AAA", "100.00", 1000, 1000)

	w := doJSON(t, h, http.MethodGet, "/api/v1/market/trending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tr model.Trending
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))

	w = doJSON(t, h, http.MethodGet, "/api/v1/market/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.MarketStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalMovies)

	w = doJSON(t, h, http.MethodGet, "/api/v1/movies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var movies []model.Movie
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &movies))
	assert.Len(t, movies, 1)
}
