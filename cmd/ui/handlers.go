package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"llm-trade-bot-go/internal/ledger"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// APIHandler serves read-only views of the ledger.
type APIHandler struct {
	log    *zap.Logger
	ledger *ledger.Writer
	now    func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, writer *ledger.Writer) *APIHandler {
	return &APIHandler{log: log, ledger: writer, now: time.Now}
}

// Routes registers the dashboard endpoints on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/chats", h.ChatsHandler)
	mux.HandleFunc("/api/metrics", h.MetricsHandler)
	mux.HandleFunc("/api/statistics", h.StatisticsHandler)
}

// ChatsHandler returns the most recent decisions with their order intents.
func (h *APIHandler) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.ledger.RecentChats(r.Context(), limitParam(r))
	if err != nil {
		h.log.Error("Failed to get chats from database", zap.Error(err))
		http.Error(w, "Failed to get chats", http.StatusInternalServerError)
		return
	}
	h.encode(w, chats)
}

// MetricsHandler returns account captures, oldest first, for charting.
func (h *APIHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.ledger.RecentMetrics(r.Context(), limitParam(r))
	if err != nil {
		h.log.Error("Failed to get metrics from database", zap.Error(err))
		http.Error(w, "Failed to get metrics", http.StatusInternalServerError)
		return
	}
	h.encode(w, metrics)
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h *ledger.Statistics `json:"since_24h"`
	AllTime  *ledger.Statistics `json:"all_time"`
}

// StatisticsHandler counts decisions per operation and model.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	since24h, err := h.ledger.Statistics(r.Context(), h.now().Add(-24*time.Hour))
	if err != nil {
		h.log.Error("Failed to get statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	allTime, err := h.ledger.Statistics(r.Context(), time.Time{})
	if err != nil {
		h.log.Error("Failed to get statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	h.encode(w, StatisticsResponse{Since24h: since24h, AllTime: allTime})
}

func (h *APIHandler) encode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

// limitParam reads ?limit=, clamped to [1, maxLimit].
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case err != nil || n < 1:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}
