package trader

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/models"
)

// CycleRunner is what the trigger surface drives.
type CycleRunner interface {
	RunCycle(ctx context.Context, req CycleRequest) (*models.Chat, error)
	CaptureMetrics(ctx context.Context) (*models.Metric, error)
}

// APIServer exposes the cycle and metrics triggers over HTTP.
type APIServer struct {
	server    *http.Server
	runner    CycleRunner
	trading   config.Trading
	secret    string
	startTime time.Time
	logger    *zap.Logger
}

// NewAPIServer creates a new APIServer listening on server.port.
func NewAPIServer(runner CycleRunner, cfg *config.Config, logger *zap.Logger) *APIServer {
	s := &APIServer{
		runner:    runner,
		trading:   cfg.Trading,
		secret:    cfg.Server.CronSecret,
		startTime: time.Now(),
		logger:    logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.secret == "" {
		s.logger.Warn("server.cron_secret is empty, every trigger call will be rejected")
	}
	return s
}

// Handler returns the routes of the server.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.Handle("/api/cron/cycle", s.authorize(http.HandlerFunc(s.cycleHandler)))
	mux.Handle("/api/cron/metrics", s.authorize(http.HandlerFunc(s.metricsHandler)))
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// authorize rejects requests without "Authorization: Bearer <cron_secret>".
func (s *APIServer) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			report(s.logger, "Trigger rejected", ErrUnauthorized,
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) cycleHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := NewCycleRequest(s.trading, q.Get("model"), q.Get("symbol"))

	chat, err := s.runner.RunCycle(r.Context(), req)
	if err != nil {
		report(s.logger, "Triggered cycle failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chat, s.logger)
}

func (s *APIServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metric, err := s.runner.CaptureMetrics(r.Context())
	if err != nil {
		report(s.logger, "Triggered metrics capture failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metric, s.logger)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		StartTime string `json:"start_time"`
		Uptime    string `json:"uptime"`
		Symbol    string `json:"symbol"`
		DryRun    bool   `json:"dry_run"`
	}{
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Symbol:    s.trading.Symbol,
		DryRun:    s.trading.DryRun,
	}
	writeJSON(w, http.StatusOK, status, s.logger)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
