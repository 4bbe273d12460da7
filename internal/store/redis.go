package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: movie snapshots, user balances, and
// holdings. Writes go to the primary store and invalidate the affected
// keys; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Uncached returns the primary store beneath a CachedStore, or s itself
// otherwise. Reads taken while holding a user or movie lock must go
// through this: a read-through fill racing an invalidation can park a
// stale snapshot in the cache, and a locked reader must never execute
// against it.
func Uncached(s Store) Store {
	if c, ok := s.(*CachedStore); ok {
		return c.primary
	}
	return s
}

// --- Users ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheJSON(ctx, userKey(u.ID), u)
	return nil
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if s.getJSON(ctx, userKey(id), &u) {
		return &u, nil
	}

	fresh, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, userKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if err := s.primary.Debit(ctx, userID, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if err := s.primary.Credit(ctx, userID, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) CountUsers(ctx context.Context) (int64, error) {
	return s.primary.CountUsers(ctx)
}

// --- Movies ---

func (s *CachedStore) CreateMovie(ctx context.Context, m *model.Movie) error {
	if err := s.primary.CreateMovie(ctx, m); err != nil {
		return err
	}
	s.cacheJSON(ctx, movieKey(m.ID), m)
	return nil
}

func (s *CachedStore) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	var m model.Movie
	if s.getJSON(ctx, movieKey(id), &m) {
		return &m, nil
	}

	fresh, err := s.primary.GetMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, movieKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListMovies(ctx context.Context) ([]model.Movie, error) {
	return s.primary.ListMovies(ctx)
}

func (s *CachedStore) ReserveShares(ctx context.Context, movieID string, qty int64) error {
	if err := s.primary.ReserveShares(ctx, movieID, qty); err != nil {
		return err
	}
	s.rdb.Del(ctx, movieKey(movieID))
	return nil
}

func (s *CachedStore) ReleaseShares(ctx context.Context, movieID string, qty int64) error {
	if err := s.primary.ReleaseShares(ctx, movieID, qty); err != nil {
		return err
	}
	s.rdb.Del(ctx, movieKey(movieID))
	return nil
}

func (s *CachedStore) RecordVolume(ctx context.Context, movieID string, qty int64) error {
	if err := s.primary.RecordVolume(ctx, movieID, qty); err != nil {
		return err
	}
	s.rdb.Del(ctx, movieKey(movieID))
	return nil
}

func (s *CachedStore) SetPrice(ctx context.Context, movieID string, price, change, changePercent decimal.Decimal) error {
	if err := s.primary.SetPrice(ctx, movieID, price, change, changePercent); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the fresh price.
	s.rdb.Del(ctx, movieKey(movieID))
	return nil
}

// --- Holdings ---

func (s *CachedStore) GetHolding(ctx context.Context, userID, movieID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, movieID)
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	var holdings []model.Holding
	if s.getJSON(ctx, holdingsKey(userID), &holdings) {
		return holdings, nil
	}

	fresh, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, holdingsKey(userID), fresh)
	return fresh, nil
}

func (s *CachedStore) UpsertHolding(ctx context.Context, userID, movieID string, qty int64, price decimal.Decimal, side string) error {
	if err := s.primary.UpsertHolding(ctx, userID, movieID, qty, price, side); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(userID))
	return nil
}

// --- Transactions (passthrough, append-only) ---

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID, limit)
}

func (s *CachedStore) CountTransactions(ctx context.Context) (int64, error) {
	return s.primary.CountTransactions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) getJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func movieKey(id string) string     { return fmt.Sprintf("movie:%s", id) }
func userKey(id string) string      { return fmt.Sprintf("user:%s", id) }
func holdingsKey(uid string) string { return fmt.Sprintf("holdings:%s", uid) }
