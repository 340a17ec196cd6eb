package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// defaultHistoryDays bounds the history window when no range is given.
const defaultHistoryDays = 365

// IndexHandler serves index definitions, history, and holdings.
type IndexHandler struct {
	indexes contracts.IndexRepository
	logger  *logger.Logger
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(indexes contracts.IndexRepository, log *logger.Logger) *IndexHandler {
	return &IndexHandler{indexes: indexes, logger: log}
}

// IndexDetail is the composite response for one index.
type IndexDetail struct {
	Meta     contracts.IndexDefinition    `json:"meta"`
	History  []contracts.IndexHistoryPoint `json:"history"`
	Holdings []contracts.IndexConstituent  `json:"holdings"`
}

// List returns all index definitions.
// GET /api/indices
func (h *IndexHandler) List(w http.ResponseWriter, r *http.Request) {
	defs, err := h.indexes.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list indices")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve indices")
		return
	}
	if defs == nil {
		defs = []contracts.IndexDefinition{}
	}
	respondJSON(w, http.StatusOK, defs)
}

// Get returns one index with its recent history and current holdings.
// GET /api/indices/{slug}?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *IndexHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	def, err := h.indexes.GetBySlug(ctx, slug)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load index")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve index")
		return
	}
	if def == nil {
		respondError(w, http.StatusNotFound, "Index not found")
		return
	}

	from, to, err := historyRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.indexes.History(ctx, def.ID, from, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load index history")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	holdings, err := h.indexes.EffectiveSnapshot(ctx, def.ID, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load holdings")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve holdings")
		return
	}

	if history == nil {
		history = []contracts.IndexHistoryPoint{}
	}
	if holdings == nil {
		holdings = []contracts.IndexConstituent{}
	}
	respondJSON(w, http.StatusOK, IndexDetail{Meta: *def, History: history, Holdings: holdings})
}

func historyRange(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -defaultHistoryDays)

	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(contracts.DateFormat, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(contracts.DateFormat, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	return from, to, nil
}
