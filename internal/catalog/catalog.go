// Package catalog creates and validates movie listings. The trading core
// does not care where listings come from (an admin API, a seed run, an
// external feed); this package is the single place where a title becomes
// a tradable instrument with a symbol, an initial price, and a share
// float.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/model"
	"github.com/bollysensex/trading-engine/internal/store"
)

var (
	ErrMissingTitle  = errors.New("catalog: title is required")
	ErrInvalidShares = errors.New("catalog: total shares must be positive")
	ErrInvalidPrice  = errors.New("catalog: initial price must be positive")
)

// SymbolLen is the maximum length of a derived ticker symbol.
const SymbolLen = 6

// Seeding ranges, matching the listing conventions of the original market:
// initial prices between 50 and 500, floats between 10k and 100k shares.
const (
	seedPriceMin  = 50.0
	seedPriceMax  = 500.0
	seedSharesMin = 10000
	seedSharesMax = 100000
)

// Listing is the validated input for creating a movie.
type Listing struct {
	Title        string          `json:"title"`
	Genres       []string        `json:"genres"`
	ReleaseDate  string          `json:"release_date"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	TotalShares  int64           `json:"total_shares"`
}

// New validates a listing and builds the Movie record. The price engine
// divides by total shares, so zero-share movies are rejected here, at
// creation time.
func New(l Listing) (*model.Movie, error) {
	if strings.TrimSpace(l.Title) == "" {
		return nil, ErrMissingTitle
	}
	if l.TotalShares <= 0 {
		return nil, ErrInvalidShares
	}
	if !l.InitialPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}

	price := l.InitialPrice.Round(2)
	return &model.Movie{
		ID:              uuid.New().String(),
		Symbol:          Symbol(l.Title),
		Title:           l.Title,
		Genres:          l.Genres,
		ReleaseDate:     l.ReleaseDate,
		CurrentPrice:    price,
		InitialPrice:    price,
		TotalShares:     l.TotalShares,
		AvailableShares: l.TotalShares,
		Volume:          0,
		Change:          decimal.Zero,
		ChangePercent:   decimal.Zero,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// Symbol derives a ticker symbol from a title: uppercase alphanumerics
// only, truncated to SymbolLen characters.
func Symbol(title string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			if b.Len() >= SymbolLen {
				break
			}
		}
	}
	return b.String()
}

// Seed creates n synthetic movie listings with randomized prices and
// floats. Used for development and tests against the in-memory store.
func Seed(ctx context.Context, st store.Store, rng *rand.Rand, n int) ([]model.Movie, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	created := make([]model.Movie, 0, n)
	for i := 0; i < n; i++ {
		price := seedPriceMin + rng.Float64()*(seedPriceMax-seedPriceMin)
		shares := seedSharesMin + rng.Int63n(seedSharesMax-seedSharesMin+1)

		m, err := New(Listing{
			Title:        fmt.Sprintf("Blockbuster %02d", i+1),
			Genres:       []string{"Drama"},
			InitialPrice: decimal.NewFromFloat(price).Round(2),
			TotalShares:  shares,
		})
		if err != nil {
			return created, err
		}
		// Derived symbols collide across synthetic titles; suffix keeps
		// them unique.
		m.Symbol = fmt.Sprintf("BLK%02d", i+1)

		if err := st.CreateMovie(ctx, m); err != nil {
			return created, fmt.Errorf("seed movie %q: %w", m.Title, err)
		}
		created = append(created, *m)
	}
	return created, nil
}
