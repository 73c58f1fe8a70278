// Package server exposes the HTTP surface: probes, metrics and the
// Telegram webhook.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/pkg/logger"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connection reports whether an optional dependency is connected.
type Connection interface {
	IsConnected() bool
}

// WebhookHandler receives updates pushed by Telegram.
type WebhookHandler interface {
	ServeWebhook(w http.ResponseWriter, r *http.Request)
}

type Config struct {
	WebhookSecret string // webhook route is mounted only when set
	ReadyTimeout  time.Duration
}

type Handler struct {
	cfg     Config
	store   Pinger
	events  Connection
	webhook WebhookHandler
	logger  *logger.Logger
}

// New builds the router. events and webhook may be nil.
func New(cfg Config, store Pinger, events Connection, webhook WebhookHandler, log *logger.Logger) http.Handler {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	h := &Handler{cfg: cfg, store: store, events: events, webhook: webhook, logger: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.logging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if webhook != nil && cfg.WebhookSecret != "" {
		r.Post("/telegram/{secret}", h.Webhook)
	}

	return r
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ReadyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.String("dependency", "database"), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unreachable",
		})
		return
	}

	if h.events != nil && !h.events.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Webhook handles POST /telegram/{secret}
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.WebhookSecret)) != 1 {
		h.logger.Warn("webhook call with wrong secret", zap.String("remote", r.RemoteAddr))
		http.NotFound(w, r)
		return
	}
	h.webhook.ServeWebhook(w, r)
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("http request",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
