// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Share quantities are whole shares (int64).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types.
const (
	OrderMarket = "market"
	OrderLimit  = "limit"
)

// User is a registered trader. Balance is mutated only through the
// store's Debit/Credit primitives.
type User struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Movie is a tradable instrument. InitialPrice and TotalShares are
// immutable once set. AvailableShares is inventory not held by any user:
// sum(holdings.quantity) + AvailableShares == TotalShares at all times.
// CurrentPrice never drops below InitialPrice * 0.1.
type Movie struct {
	ID              string          `json:"id" db:"id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Title           string          `json:"title" db:"title"`
	Genres          []string        `json:"genres" db:"genres"`
	ReleaseDate     string          `json:"release_date,omitempty" db:"release_date"`
	CurrentPrice    decimal.Decimal `json:"current_price" db:"current_price"`
	InitialPrice    decimal.Decimal `json:"initial_price" db:"initial_price"`
	TotalShares     int64           `json:"total_shares" db:"total_shares"`
	AvailableShares int64           `json:"available_shares" db:"available_shares"`
	Volume          int64           `json:"volume" db:"volume"`
	Change          decimal.Decimal `json:"change" db:"change"`
	ChangePercent   decimal.Decimal `json:"change_percent" db:"change_percent"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// MarketCap is the movie's valuation at the current price.
func (m *Movie) MarketCap() decimal.Decimal {
	return m.CurrentPrice.Mul(decimal.NewFromInt(m.TotalShares))
}

// Holding is a user's position in one movie. Quantity is always > 0;
// holdings that reach zero are deleted, never persisted. AvgPrice is the
// volume-weighted average cost basis, rounded to 2 decimal places.
type Holding struct {
	UserID   string          `json:"user_id" db:"user_id"`
	MovieID  string          `json:"movie_id" db:"movie_id"`
	Quantity int64           `json:"quantity" db:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price" db:"avg_price"`
}

// CostBasis returns quantity * avgPrice.
func (h *Holding) CostBasis() decimal.Decimal {
	return h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity))
}

// Transaction is an immutable record of an executed order.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MovieID   string          `json:"movie_id" db:"movie_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Title     string          `json:"title" db:"title"`
	Side      string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`   // execution price per share
	Amount    decimal.Decimal `json:"amount" db:"amount"` // price * quantity
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PortfolioItem is a holding enriched with live market data.
type PortfolioItem struct {
	MovieID      string          `json:"movie_id"`
	Symbol       string          `json:"symbol"`
	Title        string          `json:"title"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentValue decimal.Decimal `json:"current_value"`
	PL           decimal.Decimal `json:"pl"`         // currentValue - costBasis
	PLPercent    decimal.Decimal `json:"pl_percent"` // pl / costBasis * 100
	DayChange    decimal.Decimal `json:"day_change"`
	DayChangePct decimal.Decimal `json:"day_change_percent"`
}

// Portfolio aggregates a user's positions with balance and P&L totals.
type Portfolio struct {
	UserID      string          `json:"user_id"`
	Items       []PortfolioItem `json:"portfolio"`
	TotalValue  decimal.Decimal `json:"total_value"`
	TotalPL     decimal.Decimal `json:"total_pl"`
	Balance     decimal.Decimal `json:"balance"`
	TotalAssets decimal.Decimal `json:"total_assets"` // totalValue + balance
}

// Trending groups the market movers boards.
type Trending struct {
	Gainers       []Movie `json:"gainers"`
	Losers        []Movie `json:"losers"`
	VolumeLeaders []Movie `json:"volume_leaders"`
}

// MarketStats is the aggregate market snapshot.
type MarketStats struct {
	TotalMovies       int64           `json:"total_movies"`
	TotalUsers        int64           `json:"total_users"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalMarketCap    decimal.Decimal `json:"total_market_cap"`
}
