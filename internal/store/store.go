// Package store defines the ledger persistence interface for the trading
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and development).
//
// The store is the sole owner of user balances, movie share inventory and
// price fields, and holding records. Every mutation primitive is atomic:
// it either fully applies or fully rejects with a typed error from the
// model package — no partial state is ever visible to other callers.
// Serialization across primitives (e.g. debit-then-reserve for one order)
// is the caller's job, via per-user and per-movie locks.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/model"
)

// Store is the ledger persistence interface.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Debit subtracts amount from the user's balance. Fails with
	// model.ErrInsufficientFunds if the balance is too low.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) error

	// Credit adds amount to the user's balance.
	Credit(ctx context.Context, userID string, amount decimal.Decimal) error

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int64, error)

	// --- Movies ---

	// CreateMovie persists a new movie listing.
	CreateMovie(ctx context.Context, m *model.Movie) error

	// GetMovie retrieves a movie by ID.
	GetMovie(ctx context.Context, id string) (*model.Movie, error)

	// ListMovies returns all movies.
	ListMovies(ctx context.Context) ([]model.Movie, error)

	// ReserveShares removes qty from the movie's available inventory.
	// Fails with model.ErrInsufficientShares if not enough remain.
	ReserveShares(ctx context.Context, movieID string, qty int64) error

	// ReleaseShares returns qty to the movie's available inventory,
	// capped at total shares.
	ReleaseShares(ctx context.Context, movieID string, qty int64) error

	// RecordVolume adds qty to the movie's cumulative traded volume.
	RecordVolume(ctx context.Context, movieID string, qty int64) error

	// SetPrice overwrites the movie's price fields.
	SetPrice(ctx context.Context, movieID string, price, change, changePercent decimal.Decimal) error

	// --- Holdings ---

	// GetHolding retrieves one user's position in one movie, or
	// model.ErrHoldingNotFound.
	GetHolding(ctx context.Context, userID, movieID string) (*model.Holding, error)

	// ListHoldings returns all of a user's positions.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// UpsertHolding applies a fill to the user's position. For a buy it
	// creates the holding or folds the fill into the volume-weighted
	// average price. For a sell it decrements the quantity, failing with
	// model.ErrInsufficientHoldings if qty exceeds the held quantity, and
	// deletes the holding when the quantity reaches zero.
	UpsertHolding(ctx context.Context, userID, movieID string, qty int64, price decimal.Decimal, side string) error

	// --- Immutable transaction ledger ---

	// InsertTransaction appends an immutable trade record.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// ListTransactionsByUser returns a user's trades, newest first,
	// capped at limit (unlimited if limit <= 0).
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// CountTransactions returns the total number of recorded trades.
	CountTransactions(ctx context.Context) (int64, error)
}
