package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bollysensex/trading-engine/internal/catalog"
	"github.com/bollysensex/trading-engine/internal/model"
)

// RegisterRequest is the JSON body for POST /api/v1/users.
type RegisterRequest struct {
	Name string `json:"name"`
}

// OrderResponse is the JSON body returned from POST /api/v1/orders.
type OrderResponse struct {
	Message     string             `json:"message"`
	Transaction *model.Transaction `json:"transaction"`
}

// HandleRegister handles POST /api/v1/users.
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	user, err := s.Register(r.Context(), req.Name)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleGetUser handles GET /api/v1/users/{userID}.
func (s *Service) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleCreateMovie handles POST /api/v1/movies.
func (s *Service) HandleCreateMovie(w http.ResponseWriter, r *http.Request) {
	var listing catalog.Listing
	if err := json.NewDecoder(r.Body).Decode(&listing); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	movie, err := catalog.New(listing)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateMovie(r.Context(), movie); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, movie)
}

// HandleListMovies handles GET /api/v1/movies.
func (s *Service) HandleListMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := s.store.ListMovies(r.Context())
	if err != nil {
		writeError(w, "failed to list movies", http.StatusInternalServerError)
		return
	}
	if movies == nil {
		movies = []model.Movie{}
	}
	writeJSON(w, http.StatusOK, movies)
}

// HandleGetMovie handles GET /api/v1/movies/{movieID}.
func (s *Service) HandleGetMovie(w http.ResponseWriter, r *http.Request) {
	movie, err := s.store.GetMovie(r.Context(), chi.URLParam(r, "movieID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, movie)
}

// HandlePlaceOrder handles POST /api/v1/orders.
func (s *Service) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.MovieID == "" {
		writeError(w, "movie_id is required", http.StatusBadRequest)
		return
	}

	tx, err := s.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		Message:     "Order placed successfully",
		Transaction: tx,
	})
}

// HandlePortfolio handles GET /api/v1/portfolio/{userID}.
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// HandleTransactions handles GET /api/v1/users/{userID}/transactions.
func (s *Service) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	txs, err := s.store.ListTransactionsByUser(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// HandleTrending handles GET /api/v1/market/trending.
func (s *Service) HandleTrending(w http.ResponseWriter, r *http.Request) {
	trending, err := s.Trending(r.Context())
	if err != nil {
		writeError(w, "failed to compute trending", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trending)
}

// HandleMarketStats handles GET /api/v1/market/stats.
func (s *Service) HandleMarketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.MarketStats(r.Context())
	if err != nil {
		writeError(w, "failed to compute market stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrMovieNotFound),
		errors.Is(err, model.ErrHoldingNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUserExists),
		errors.Is(err, model.ErrMovieExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientShares),
		errors.Is(err, model.ErrInsufficientHoldings),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidOrderType),
		errors.Is(err, ErrMissingLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
