package handlers

import (
	"net/http"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// TickerHandler serves the ticker universe.
type TickerHandler struct {
	tickers contracts.TickerRepository
	logger  *logger.Logger
}

// NewTickerHandler creates a new ticker handler.
func NewTickerHandler(tickers contracts.TickerRepository, log *logger.Logger) *TickerHandler {
	return &TickerHandler{tickers: tickers, logger: log}
}

// List returns all known tickers.
// GET /api/tickers
func (h *TickerHandler) List(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.tickers.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tickers")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve tickers")
		return
	}
	if tickers == nil {
		tickers = []contracts.Ticker{}
	}
	respondJSON(w, http.StatusOK, tickers)
}
