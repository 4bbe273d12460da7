package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*model.User
	movies       map[string]*model.Movie
	holdings     map[string]map[string]*model.Holding // userID → movieID → holding
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*model.User),
		movies:   make(map[string]*model.Movie),
		holdings: make(map[string]map[string]*model.Holding),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return model.ErrUserExists
	}

	// Store a copy to avoid external mutation.
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	if u.Balance.LessThan(amount) {
		return model.ErrInsufficientFunds
	}
	u.Balance = u.Balance.Sub(amount)
	return nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Balance = u.Balance.Add(amount)
	return nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// --- Movies ---

func (s *MemoryStore) CreateMovie(_ context.Context, m *model.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.movies[m.ID]; ok {
		return model.ErrMovieExists
	}
	for _, existing := range s.movies {
		if existing.Symbol == m.Symbol {
			return model.ErrMovieExists
		}
	}

	cp := *m
	s.movies[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMovie(_ context.Context, id string) (*model.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, model.ErrMovieNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMovies(_ context.Context) ([]model.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movies := make([]model.Movie, 0, len(s.movies))
	for _, m := range s.movies {
		movies = append(movies, *m)
	}
	sort.Slice(movies, func(i, j int) bool {
		return movies[i].Symbol < movies[j].Symbol
	})
	return movies, nil
}

func (s *MemoryStore) ReserveShares(_ context.Context, movieID string, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[movieID]
	if !ok {
		return model.ErrMovieNotFound
	}
	if m.AvailableShares < qty {
		return model.ErrInsufficientShares
	}
	m.AvailableShares -= qty
	return nil
}

func (s *MemoryStore) ReleaseShares(_ context.Context, movieID string, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[movieID]
	if !ok {
		return model.ErrMovieNotFound
	}
	m.AvailableShares += qty
	if m.AvailableShares > m.TotalShares {
		m.AvailableShares = m.TotalShares
	}
	return nil
}

func (s *MemoryStore) RecordVolume(_ context.Context, movieID string, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[movieID]
	if !ok {
		return model.ErrMovieNotFound
	}
	m.Volume += qty
	return nil
}

func (s *MemoryStore) SetPrice(_ context.Context, movieID string, price, change, changePercent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[movieID]
	if !ok {
		return model.ErrMovieNotFound
	}
	m.CurrentPrice = price
	m.Change = change
	m.ChangePercent = changePercent
	return nil
}

// --- Holdings ---

func (s *MemoryStore) GetHolding(_ context.Context, userID, movieID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[userID][movieID]
	if !ok {
		return nil, model.ErrHoldingNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, h := range s.holdings[userID] {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].MovieID < holdings[j].MovieID
	})
	return holdings, nil
}

func (s *MemoryStore) UpsertHolding(_ context.Context, userID, movieID string, qty int64, price decimal.Decimal, side string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMovie := s.holdings[userID]
	h := byMovie[movieID]

	if side == model.SideBuy {
		if h == nil {
			if byMovie == nil {
				byMovie = make(map[string]*model.Holding)
				s.holdings[userID] = byMovie
			}
			byMovie[movieID] = &model.Holding{
				UserID:   userID,
				MovieID:  movieID,
				Quantity: qty,
				AvgPrice: price.Round(2),
			}
			return nil
		}
		// Volume-weighted average cost basis.
		oldValue := h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity))
		newValue := price.Mul(decimal.NewFromInt(qty))
		total := h.Quantity + qty
		h.AvgPrice = oldValue.Add(newValue).Div(decimal.NewFromInt(total)).Round(2)
		h.Quantity = total
		return nil
	}

	// Sell.
	if h == nil || h.Quantity < qty {
		return model.ErrInsufficientHoldings
	}
	h.Quantity -= qty
	if h.Quantity == 0 {
		delete(byMovie, movieID)
	}
	return nil
}

// --- Transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	// Ledger is append-only; walk backwards for newest-first order.
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID != userID {
			continue
		}
		result = append(result, s.transactions[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) CountTransactions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.transactions)), nil
}
