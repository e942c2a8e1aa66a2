package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/calculations"
	"github.com/rs/zerolog"
)

// highCorrelationThreshold flags pairs the optimizer should treat as a
// single exposure.
const highCorrelationThreshold = 0.85

// PriceHistorySource supplies per-symbol daily price series.
type PriceHistorySource interface {
	PriceHistory(ctx context.Context) (map[string][]float64, error)
}

// OptimizerPortfolio supplies the current snapshot for the variance of
// the held weights. Optional.
type OptimizerPortfolio interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// OptimizerHandler serves the expected-return and covariance inputs the
// external optimizer consumes.
type OptimizerHandler struct {
	prices    PriceHistorySource
	portfolio OptimizerPortfolio
	log       zerolog.Logger
}

// NewOptimizerHandler creates a new optimizer inputs handler. The
// portfolio source may be nil; the portfolio variance is then omitted.
func NewOptimizerHandler(prices PriceHistorySource, portfolio OptimizerPortfolio, log zerolog.Logger) *OptimizerHandler {
	return &OptimizerHandler{
		prices:    prices,
		portfolio: portfolio,
		log:       log.With().Str("handler", "optimizer").Logger(),
	}
}

// HandleInputs computes optimizer inputs from the dropped price
// history: expected returns, the shrunk covariance matrix and any
// highly correlated pairs.
func (h *OptimizerHandler) HandleInputs(w http.ResponseWriter, r *http.Request) {
	series, err := h.prices.PriceHistory(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read price history")
		h.respondError(w, http.StatusInternalServerError, "Failed to read price history")
		return
	}
	if len(series) == 0 {
		h.respondError(w, http.StatusNotFound, "No price history available")
		return
	}

	symbols := make([]string, 0, len(series))
	for symbol := range series {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	returns, observations := alignedReturns(series, symbols)
	if observations < 2 {
		h.respondError(w, http.StatusUnprocessableEntity, "Insufficient price history")
		return
	}

	expected, err := calculations.ExpectedReturns(returns, symbols)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute expected returns")
		h.respondError(w, http.StatusInternalServerError, "Failed to compute expected returns")
		return
	}

	sampleCov, err := calculations.SampleCovariance(returns, symbols)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute covariance")
		h.respondError(w, http.StatusInternalServerError, "Failed to compute covariance")
		return
	}
	covariance, err := calculations.Shrink(sampleCov)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to shrink covariance")
		h.respondError(w, http.StatusInternalServerError, "Failed to shrink covariance")
		return
	}

	response := map[string]interface{}{
		"symbols":           symbols,
		"observations":      observations,
		"expected_returns":  expected,
		"covariance":        covariance,
		"high_correlations": calculations.HighCorrelations(covariance, symbols, highCorrelationThreshold),
	}

	if variance, ok := h.portfolioVariance(r.Context(), covariance, symbols); ok {
		response["portfolio_variance"] = variance
	}

	h.respond(w, http.StatusOK, response)
}

// alignedReturns fills gaps in each series, truncates every series to
// the shortest one (keeping the most recent prices) and converts to
// daily returns. Returns the per-symbol series and the shared
// observation count.
func alignedReturns(series map[string][]float64, symbols []string) (map[string][]float64, int) {
	shortest := -1
	for _, symbol := range symbols {
		if shortest < 0 || len(series[symbol]) < shortest {
			shortest = len(series[symbol])
		}
	}
	if shortest < 2 {
		return nil, 0
	}

	returns := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		prices := calculations.FillMissing(series[symbol])
		prices = prices[len(prices)-shortest:]
		returns[symbol] = calculations.DailyReturns(prices)
	}
	return returns, shortest - 1
}

func (h *OptimizerHandler) respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode optimizer response")
	}
}

func (h *OptimizerHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respond(w, status, map[string]string{"error": message})
}

// portfolioVariance computes w' Σ w for the currently held weights over
// the covariance symbols. Symbols not held carry zero weight.
func (h *OptimizerHandler) portfolioVariance(ctx context.Context, covariance [][]float64, symbols []string) (float64, bool) {
	if h.portfolio == nil {
		return 0, false
	}

	snapshot, err := h.portfolio.Snapshot(ctx)
	if err != nil {
		h.log.Debug().Err(err).Msg("No portfolio snapshot for variance")
		return 0, false
	}
	total := snapshot.TotalValue()
	if total <= 0 {
		return 0, false
	}

	held := make(map[string]float64, len(snapshot.Positions))
	for _, pos := range snapshot.Positions {
		held[pos.Symbol] += pos.Value() / total
	}

	weights := make([]float64, len(symbols))
	for i, symbol := range symbols {
		weights[i] = held[symbol]
	}

	variance, err := calculations.PortfolioVariance(covariance, weights)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to compute portfolio variance")
		return 0, false
	}
	return variance, true
}
