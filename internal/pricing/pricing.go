// Package pricing implements the demand/supply price engine for movie shares.
//
// Prices move two ways: trades push the price in the direction of the order
// (impact proportional to the traded fraction of total shares, capped), and
// the background simulator applies a small random walk. Both paths share the
// same floor clamp: a movie's price never drops below 10% of its initial
// listing price.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bollysensex/trading-engine/internal/model"
)

var (
	// ErrNoShares is returned when a movie reports zero total shares.
	// Such movies must be rejected at creation time; the engine refuses
	// to divide by zero rather than guessing.
	ErrNoShares = errors.New("pricing: movie has zero total shares")

	// FloorRatio is the fraction of the initial price below which the
	// current price is never allowed to fall.
	FloorRatio = decimal.NewFromFloat(0.1)

	// ImpactFactor scales trade volume (as % of total shares) into a
	// price change percentage.
	ImpactFactor = decimal.NewFromFloat(0.5)

	// MaxImpactPercent caps the price change from a single trade.
	MaxImpactPercent = decimal.NewFromFloat(5.0)

	// TickRangePercent bounds the random walk: each tick draws a
	// percentage uniformly from [-TickRangePercent, +TickRangePercent].
	TickRangePercent = 2.0
)

// PriceScale is the number of decimal places for price rounding.
const PriceScale int32 = 2

var hundred = decimal.NewFromInt(100)

// Quote is the result of a price computation: the new price plus the
// delta and percent change relative to the price before, for storage on
// the movie record. Change and ChangePercent are advisory only and feed
// no further calculations.
type Quote struct {
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// Engine computes new prices. It is stateless apart from the random
// source used for simulator ticks; trade pricing is a pure function of
// its arguments.
type Engine struct {
	rng *rand.Rand
}

// NewEngine creates a price engine. rng may be nil, in which case a
// time-seeded source is used. The engine's random source is not
// goroutine-safe; OnTick must be called from a single goroutine.
func NewEngine(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{rng: rng}
}

// OnTrade computes the post-trade price for a movie.
//
// The traded quantity as a percentage of total shares, scaled by
// ImpactFactor and capped at MaxImpactPercent, moves the price up for a
// buy and down for a sell:
//
//	impact% = min((qty / totalShares) * 100 * 0.5, 5.0)
//
// The result is clamped to the floor and rounded to 2 decimal places.
func (e *Engine) OnTrade(current, initial decimal.Decimal, totalShares, quantity int64, side string) (Quote, error) {
	if totalShares <= 0 {
		return Quote{}, ErrNoShares
	}

	volumeImpact := decimal.NewFromInt(quantity).
		Div(decimal.NewFromInt(totalShares)).
		Mul(hundred)

	pct := volumeImpact.Mul(ImpactFactor)
	if pct.GreaterThan(MaxImpactPercent) {
		pct = MaxImpactPercent
	}
	if side == model.SideSell {
		pct = pct.Neg()
	}

	return e.OnPercent(current, initial, pct), nil
}

// OnTick computes one random-walk step: a percentage drawn uniformly
// from [-TickRangePercent, +TickRangePercent] applied to the current
// price, with the same floor clamp and rounding as trades.
func (e *Engine) OnTick(current, initial decimal.Decimal) Quote {
	pct := e.rng.Float64()*2*TickRangePercent - TickRangePercent
	return e.OnPercent(current, initial, decimal.NewFromFloat(pct))
}

// OnPercent applies a signed percentage change to the current price,
// clamps to the floor (initial * FloorRatio), and rounds to PriceScale.
// Change and ChangePercent are computed from the final stored price, so
// they stay consistent when the clamp or rounding bites.
func (e *Engine) OnPercent(current, initial, pct decimal.Decimal) Quote {
	newPrice := current.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))

	floor := initial.Mul(FloorRatio)
	if newPrice.LessThan(floor) {
		newPrice = floor
	}
	newPrice = newPrice.Round(PriceScale)

	change := newPrice.Sub(current)
	changePct := decimal.Zero
	if current.IsPositive() {
		changePct = change.Div(current).Mul(hundred).Round(PriceScale)
	}

	return Quote{
		Price:         newPrice,
		Change:        change.Round(PriceScale),
		ChangePercent: changePct,
	}
}
