// Package trade implements order execution against the ledger store and
// price engine, plus the HTTP surface for trading, portfolio, and market
// queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/keylock"
	"github.com/bollysensex/trading-engine/internal/metrics"
	"github.com/bollysensex/trading-engine/internal/model"
	"github.com/bollysensex/trading-engine/internal/pricing"
	"github.com/bollysensex/trading-engine/internal/store"
)

// Request validation errors, distinct from the store's domain errors.
var (
	ErrInvalidSide      = errors.New("side must be buy or sell")
	ErrInvalidOrderType = errors.New("order type must be market or limit")
	ErrMissingLimit     = errors.New("limit orders require a positive limit price")
)

// Service executes orders and serves trading queries. Order execution is
// serialized per user and per movie via keyed locks, so concurrent orders
// on unrelated users and movies proceed fully in parallel while orders
// touching the same balance or the same share inventory never interleave.
// The market simulator shares the movie locks; a trade's price update and
// a simulator tick on the same movie cannot race.
type Service struct {
	store           store.Store
	ledger          store.Store // cache-bypassing view for lock-held reads
	engine          *pricing.Engine
	userLocks       *keylock.KeyedMutex
	movieLocks      *keylock.KeyedMutex
	wsHub           *WSHub // optional WebSocket hub for real-time broadcasts
	startingBalance decimal.Decimal
}

// NewService creates a new trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, engine *pricing.Engine, userLocks, movieLocks *keylock.KeyedMutex, hub *WSHub, startingBalance decimal.Decimal) *Service {
	return &Service{
		store:           st,
		ledger:          store.Uncached(st),
		engine:          engine,
		userLocks:       userLocks,
		movieLocks:      movieLocks,
		wsHub:           hub,
		startingBalance: startingBalance,
	}
}

// OrderRequest is a buy/sell order. Side accepts "buy"/"sell" in any
// case. OrderType defaults to market; limit orders execute at the
// caller-supplied price verbatim (no matching or queueing).
type OrderRequest struct {
	UserID     string           `json:"user_id"`
	MovieID    string           `json:"movie_id"`
	Side       string           `json:"side"`
	Quantity   int64            `json:"quantity"`
	OrderType  string           `json:"order_type"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// PlaceOrder validates and executes an order, returning the immutable
// transaction record. On any failure no state change is observable: the
// checks that can fail run before the mutations they guard, and every
// mutation registers its reversal before the next fallible step, so a
// failure anywhere unwinds the order completely.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (*model.Transaction, error) {
	side := strings.ToUpper(req.Side)
	if side != model.SideBuy && side != model.SideSell {
		return nil, ErrInvalidSide
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = model.OrderMarket
	}
	if orderType != model.OrderMarket && orderType != model.OrderLimit {
		return nil, ErrInvalidOrderType
	}
	if orderType == model.OrderLimit && (req.LimitPrice == nil || !req.LimitPrice.IsPositive()) {
		return nil, ErrMissingLimit
	}
	if req.Quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}

	start := time.Now()

	// Serialize per user, then per movie. The simulator takes only movie
	// locks, so this order is deadlock-free.
	s.userLocks.Lock(req.UserID)
	defer s.userLocks.Unlock(req.UserID)
	s.movieLocks.Lock(req.MovieID)
	defer s.movieLocks.Unlock(req.MovieID)

	// Lock-held reads bypass the cache wrapper: a read-through fill
	// racing an invalidation could otherwise hand this snapshot a stale
	// price.
	movie, err := s.ledger.GetMovie(ctx, req.MovieID)
	if err != nil {
		return nil, err
	}

	// Market orders lock in the price read here, under the movie lock;
	// everything downstream uses this snapshot.
	price := movie.CurrentPrice
	if orderType == model.OrderLimit {
		price = req.LimitPrice.Round(2)
	}
	amount := price.Mul(decimal.NewFromInt(req.Quantity)).Round(2)

	tx := &model.Transaction{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		MovieID:   movie.ID,
		Symbol:    movie.Symbol,
		Title:     movie.Title,
		Side:      side,
		Quantity:  req.Quantity,
		Price:     price,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
	}

	if side == model.SideBuy {
		err = s.executeBuy(ctx, tx, movie)
	} else {
		err = s.executeSell(ctx, tx, movie)
	}
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	quote, err := s.engine.OnTrade(movie.CurrentPrice, movie.InitialPrice, movie.TotalShares, req.Quantity, side)
	if err != nil {
		return nil, fmt.Errorf("reprice %s: %w", movie.Symbol, err)
	}
	if err := s.store.SetPrice(ctx, movie.ID, quote.Price, quote.Change, quote.ChangePercent); err != nil {
		return nil, fmt.Errorf("set price %s: %w", movie.Symbol, err)
	}

	metrics.OrdersTotal.WithLabelValues(side).Inc()
	metrics.OrderLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.TradedShares.WithLabelValues(movie.Symbol, side).Add(float64(req.Quantity))
	metrics.PriceUpdates.WithLabelValues("trade").Inc()

	slog.Info("order executed",
		"tx_id", tx.ID,
		"user", req.UserID,
		"symbol", movie.Symbol,
		"side", side,
		"qty", req.Quantity,
		"price", price.String(),
		"amount", amount.String(),
		"new_price", quote.Price.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "trade",
			MovieID:       movie.ID,
			Symbol:        movie.Symbol,
			Price:         quote.Price.String(),
			Change:        quote.Change.String(),
			ChangePercent: quote.ChangePercent.String(),
			Side:          side,
			Quantity:      req.Quantity,
		})
	}

	return tx, nil
}

// unwind runs compensations newest-first, reversing every mutation the
// failed order already applied.
func unwind(undo []func()) {
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// compensate logs a failed compensation. The ledger is left inconsistent
// only when the store fails twice in a row on the same order.
func compensate(step, txID string, err error) {
	if err != nil {
		slog.Error("order compensation failed", "step", step, "tx_id", txID, "err", err)
	}
}

// priorHolding reads the position before an order mutates it, so a later
// unwind can restore it exactly. A missing holding is returned as nil.
func (s *Service) priorHolding(ctx context.Context, userID, movieID string) (*model.Holding, error) {
	h, err := s.ledger.GetHolding(ctx, userID, movieID)
	if errors.Is(err, model.ErrHoldingNotFound) {
		return nil, nil
	}
	return h, err
}

// restoreHolding reverses a buy fill: the folded position is cleared and
// the pre-order position, if any, is recreated at its original average
// price.
func (s *Service) restoreHolding(ctx context.Context, tx *model.Transaction, prev *model.Holding) {
	total := tx.Quantity
	if prev != nil {
		total += prev.Quantity
	}
	if err := s.store.UpsertHolding(ctx, tx.UserID, tx.MovieID, total, decimal.Zero, model.SideSell); err != nil {
		compensate("clear holding", tx.ID, err)
		return
	}
	if prev != nil {
		compensate("restore holding", tx.ID,
			s.store.UpsertHolding(ctx, tx.UserID, tx.MovieID, prev.Quantity, prev.AvgPrice, model.SideBuy))
	}
}

// executeBuy runs debit → reserve → holding → volume → ledger append.
// Each mutation registers its reversal before the next fallible step, so
// a failure anywhere leaves no partial order behind.
func (s *Service) executeBuy(ctx context.Context, tx *model.Transaction, movie *model.Movie) error {
	prev, err := s.priorHolding(ctx, tx.UserID, movie.ID)
	if err != nil {
		return err
	}

	if err := s.store.Debit(ctx, tx.UserID, tx.Amount); err != nil {
		return err
	}
	undo := []func(){func() {
		compensate("credit back", tx.ID, s.store.Credit(ctx, tx.UserID, tx.Amount))
	}}

	if err := s.store.ReserveShares(ctx, movie.ID, tx.Quantity); err != nil {
		unwind(undo)
		return err
	}
	undo = append(undo, func() {
		compensate("release shares", tx.ID, s.store.ReleaseShares(ctx, movie.ID, tx.Quantity))
	})

	if err := s.store.UpsertHolding(ctx, tx.UserID, movie.ID, tx.Quantity, tx.Price, model.SideBuy); err != nil {
		unwind(undo)
		return err
	}
	undo = append(undo, func() { s.restoreHolding(ctx, tx, prev) })

	if err := s.store.RecordVolume(ctx, movie.ID, tx.Quantity); err != nil {
		unwind(undo)
		return err
	}
	undo = append(undo, func() {
		compensate("reverse volume", tx.ID, s.store.RecordVolume(ctx, movie.ID, -tx.Quantity))
	})

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		unwind(undo)
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// executeSell verifies the user and position exist, then runs holding
// decrement → credit → release → volume → ledger append with the same
// unwind discipline as the buy path. The captured prior holding lets a
// reversal re-buy at the original average price, restoring the position
// exactly.
func (s *Service) executeSell(ctx context.Context, tx *model.Transaction, movie *model.Movie) error {
	if _, err := s.ledger.GetUser(ctx, tx.UserID); err != nil {
		return err
	}
	prev, err := s.priorHolding(ctx, tx.UserID, movie.ID)
	if err != nil {
		return err
	}
	if prev == nil {
		return model.ErrInsufficientHoldings
	}

	if err := s.store.UpsertHolding(ctx, tx.UserID, movie.ID, tx.Quantity, decimal.Zero, model.SideSell); err != nil {
		return err
	}
	undo := []func(){func() {
		compensate("restore holding", tx.ID,
			s.store.UpsertHolding(ctx, tx.UserID, movie.ID, tx.Quantity, prev.AvgPrice, model.SideBuy))
	}}

	if err := s.store.Credit(ctx, tx.UserID, tx.Amount); err != nil {
		unwind(undo)
		return err
	}
	undo = append(undo, func() {
		compensate("debit back", tx.ID, s.store.Debit(ctx, tx.UserID, tx.Amount))
	})

	if err := s.store.ReleaseShares(ctx, movie.ID, tx.Quantity); err != nil {
		unwind(undo)
		return err
	}
	undo = append(undo, func() {
		compensate("re-reserve shares", tx.ID, s.store.ReserveShares(ctx, movie.ID, tx.Quantity))
	})

	if err := s.store.RecordVolume(ctx, movie.ID, tx.Quantity); err != nil {
		unwind(undo)
		return err
	}
	undo = append(undo, func() {
		compensate("reverse volume", tx.ID, s.store.RecordVolume(ctx, movie.ID, -tx.Quantity))
	})

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		unwind(undo)
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// rejectReason maps an execution error to a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, model.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, model.ErrMovieNotFound):
		return "movie_not_found"
	case errors.Is(err, model.ErrUserNotFound):
		return "user_not_found"
	default:
		return "other"
	}
}

// Portfolio builds a user's holdings enriched with current prices and
// unrealized P&L, plus balance and total-asset aggregates.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{
		UserID:     userID,
		Items:      make([]model.PortfolioItem, 0, len(holdings)),
		TotalValue: decimal.Zero,
		TotalPL:    decimal.Zero,
		Balance:    user.Balance,
	}

	for _, h := range holdings {
		movie, err := s.store.GetMovie(ctx, h.MovieID)
		if err != nil {
			// A holding for a vanished movie would be a data bug; skip
			// rather than fail the whole portfolio.
			slog.Warn("holding references unknown movie", "user", userID, "movie", h.MovieID)
			continue
		}

		qty := decimal.NewFromInt(h.Quantity)
		currentValue := movie.CurrentPrice.Mul(qty).Round(2)
		costBasis := h.AvgPrice.Mul(qty)
		pl := currentValue.Sub(costBasis).Round(2)

		plPercent := decimal.Zero
		if costBasis.IsPositive() {
			plPercent = pl.Div(costBasis).Mul(decimal.NewFromInt(100)).Round(2)
		}

		p.Items = append(p.Items, model.PortfolioItem{
			MovieID:      movie.ID,
			Symbol:       movie.Symbol,
			Title:        movie.Title,
			Quantity:     h.Quantity,
			AvgPrice:     h.AvgPrice,
			CurrentPrice: movie.CurrentPrice,
			CurrentValue: currentValue,
			PL:           pl,
			PLPercent:    plPercent,
			DayChange:    movie.Change,
			DayChangePct: movie.ChangePercent,
		})
		p.TotalValue = p.TotalValue.Add(currentValue)
		p.TotalPL = p.TotalPL.Add(pl)
	}

	p.TotalValue = p.TotalValue.Round(2)
	p.TotalPL = p.TotalPL.Round(2)
	p.TotalAssets = p.TotalValue.Add(user.Balance).Round(2)
	return p, nil
}

// trendingLimit caps each trending board.
const trendingLimit = 10

// Trending returns the top gainers, losers, and volume leaders.
func (s *Service) Trending(ctx context.Context) (*model.Trending, error) {
	movies, err := s.store.ListMovies(ctx)
	if err != nil {
		return nil, err
	}

	var gainers, losers []model.Movie
	for _, m := range movies {
		switch {
		case m.ChangePercent.IsPositive():
			gainers = append(gainers, m)
		case m.ChangePercent.IsNegative():
			losers = append(losers, m)
		}
	}
	sort.Slice(gainers, func(i, j int) bool {
		return gainers[i].ChangePercent.GreaterThan(gainers[j].ChangePercent)
	})
	sort.Slice(losers, func(i, j int) bool {
		return losers[i].ChangePercent.LessThan(losers[j].ChangePercent)
	})

	byVolume := make([]model.Movie, len(movies))
	copy(byVolume, movies)
	sort.Slice(byVolume, func(i, j int) bool {
		return byVolume[i].Volume > byVolume[j].Volume
	})

	return &model.Trending{
		Gainers:       top(gainers, trendingLimit),
		Losers:        top(losers, trendingLimit),
		VolumeLeaders: top(byVolume, trendingLimit),
	}, nil
}

func top(movies []model.Movie, n int) []model.Movie {
	if movies == nil {
		return []model.Movie{}
	}
	if len(movies) > n {
		movies = movies[:n]
	}
	return movies
}

// MarketStats aggregates market-wide counters and total market cap.
func (s *Service) MarketStats(ctx context.Context) (*model.MarketStats, error) {
	movies, err := s.store.ListMovies(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.CountTransactions(ctx)
	if err != nil {
		return nil, err
	}

	marketCap := decimal.Zero
	for i := range movies {
		marketCap = marketCap.Add(movies[i].MarketCap())
	}

	return &model.MarketStats{
		TotalMovies:       int64(len(movies)),
		TotalUsers:        users,
		TotalTransactions: txs,
		TotalMarketCap:    marketCap.Round(2),
	}, nil
}

// Register creates a user with the configured starting cash balance.
func (s *Service) Register(ctx context.Context, name string) (*model.User, error) {
	user := &model.User{
		ID:        uuid.New().String(),
		Name:      name,
		Balance:   s.startingBalance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("user registered", "id", user.ID, "name", name, "balance", user.Balance.String())
	return user, nil
}
