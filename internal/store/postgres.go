package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Balance, inventory and holding guards are enforced in the UPDATE
// statements themselves, so a primitive can never partially apply even if
// a caller forgets its locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, balance, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		u.ID, u.Name, u.Balance.String(), u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, balance::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC`,
		userID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		return model.ErrInsufficientFunds
	}
	return nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC WHERE id = $1`,
		userID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// --- Movies ---

func (s *PostgresStore) CreateMovie(ctx context.Context, m *model.Movie) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO movies (id, symbol, title, genres, release_date,
		                     current_price, initial_price, total_shares, available_shares,
		                     volume, change, change_percent, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8, $9,
		         $10, $11::NUMERIC, $12::NUMERIC, $13)`,
		m.ID, m.Symbol, m.Title, m.Genres, m.ReleaseDate,
		m.CurrentPrice.String(), m.InitialPrice.String(), m.TotalShares, m.AvailableShares,
		m.Volume, m.Change.String(), m.ChangePercent.String(), m.CreatedAt,
	)
	return err
}

const movieColumns = `id, symbol, title, genres, release_date,
	current_price::TEXT, initial_price::TEXT, total_shares, available_shares,
	volume, change::TEXT, change_percent::TEXT, created_at`

func scanMovie(row pgx.Row) (*model.Movie, error) {
	var m model.Movie
	var current, initial, change, changePct string

	err := row.Scan(&m.ID, &m.Symbol, &m.Title, &m.Genres, &m.ReleaseDate,
		&current, &initial, &m.TotalShares, &m.AvailableShares,
		&m.Volume, &change, &changePct, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.CurrentPrice, _ = decimal.NewFromString(current)
	m.InitialPrice, _ = decimal.NewFromString(initial)
	m.Change, _ = decimal.NewFromString(change)
	m.ChangePercent, _ = decimal.NewFromString(changePct)
	return &m, nil
}

func (s *PostgresStore) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE id = $1`, id)

	m, err := scanMovie(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrMovieNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get movie %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMovies(ctx context.Context) ([]model.Movie, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+movieColumns+` FROM movies ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movies []model.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		movies = append(movies, *m)
	}
	return movies, rows.Err()
}

func (s *PostgresStore) ReserveShares(ctx context.Context, movieID string, qty int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE movies SET available_shares = available_shares - $2
		 WHERE id = $1 AND available_shares >= $2`,
		movieID, qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMovie(ctx, movieID); err != nil {
			return err
		}
		return model.ErrInsufficientShares
	}
	return nil
}

func (s *PostgresStore) ReleaseShares(ctx context.Context, movieID string, qty int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE movies
		 SET available_shares = LEAST(available_shares + $2, total_shares)
		 WHERE id = $1`,
		movieID, qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMovieNotFound
	}
	return nil
}

func (s *PostgresStore) RecordVolume(ctx context.Context, movieID string, qty int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE movies SET volume = volume + $2 WHERE id = $1`,
		movieID, qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMovieNotFound
	}
	return nil
}

func (s *PostgresStore) SetPrice(ctx context.Context, movieID string, price, change, changePercent decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE movies
		 SET current_price = $2::NUMERIC, change = $3::NUMERIC, change_percent = $4::NUMERIC
		 WHERE id = $1`,
		movieID, price.String(), change.String(), changePercent.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMovieNotFound
	}
	return nil
}

// --- Holdings ---

func (s *PostgresStore) GetHolding(ctx context.Context, userID, movieID string) (*model.Holding, error) {
	var h model.Holding
	var avg string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, movie_id, quantity, avg_price::TEXT
		 FROM holdings WHERE user_id = $1 AND movie_id = $2`,
		userID, movieID).
		Scan(&h.UserID, &h.MovieID, &h.Quantity, &avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrHoldingNotFound
	}
	if err != nil {
		return nil, err
	}

	h.AvgPrice, _ = decimal.NewFromString(avg)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, movie_id, quantity, avg_price::TEXT
		 FROM holdings WHERE user_id = $1 ORDER BY movie_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avg string
		if err := rows.Scan(&h.UserID, &h.MovieID, &h.Quantity, &avg); err != nil {
			return nil, err
		}
		h.AvgPrice, _ = decimal.NewFromString(avg)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) UpsertHolding(ctx context.Context, userID, movieID string, qty int64, price decimal.Decimal, side string) error {
	if side == model.SideBuy {
		// Weighted-average fold computed in SQL so the read and write are
		// one statement.
		_, err := s.pool.Exec(ctx,
			`INSERT INTO holdings (user_id, movie_id, quantity, avg_price)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (user_id, movie_id) DO UPDATE SET
			   avg_price = ROUND(
			     (holdings.quantity * holdings.avg_price + EXCLUDED.quantity * EXCLUDED.avg_price)
			     / (holdings.quantity + EXCLUDED.quantity), 2),
			   quantity = holdings.quantity + EXCLUDED.quantity`,
			userID, movieID, qty, price.Round(2).String(),
		)
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE holdings SET quantity = quantity - $3
		 WHERE user_id = $1 AND movie_id = $2 AND quantity >= $3`,
		userID, movieID, qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInsufficientHoldings
	}

	// Zero-quantity holdings are deleted, never persisted.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM holdings WHERE user_id = $1 AND movie_id = $2 AND quantity = 0`,
		userID, movieID,
	)
	return err
}

// --- Transactions ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, movie_id, symbol, title, side,
		                           quantity, price, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.UserID, t.MovieID, t.Symbol, t.Title, t.Side,
		t.Quantity, t.Price.String(), t.Amount.String(), t.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	q := `SELECT id, user_id, movie_id, symbol, title, side,
	             quantity, price::TEXT, amount::TEXT, timestamp
	      FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var priceS, amountS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.MovieID, &t.Symbol, &t.Title, &t.Side,
			&t.Quantity, &priceS, &amountS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Amount, _ = decimal.NewFromString(amountS)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}
