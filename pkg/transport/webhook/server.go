// Package webhook is the inbound HTTP surface of the bot: Telegram update
// delivery, the admin decision endpoints, health and metrics.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
)

const (
	UpdatePath   = "/telegram/webhook"
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	defaultAdminRate = 30 // requests per minute per IP
	maxBodyBytes     = 1 << 20
	healthTimeout    = 2 * time.Second
)

// Submitter accepts Telegram updates for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, upd tgbotapi.Update) error
}

// Decider applies doctor decisions made outside Telegram.
type Decider interface {
	Confirm(ctx context.Context, id int64) error
	Reject(ctx context.Context, id int64, reason string) error
	CancelByDoctor(ctx context.Context, id int64, reason string) error
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	WebhookSecret string
	AdminToken    string
	// AdminRate is the per-IP request budget per minute for /admin.
	AdminRate int
}

type Option func(*server)

// WithMetrics exposes h at /metrics.
func WithMetrics(h http.Handler) Option { return func(s *server) { s.metrics = h } }

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *server) { s.checks = append(s.checks, check{name, p}) }
}

type check struct {
	name string
	p    Pinger
}

type server struct {
	config  Config
	updates Submitter
	decider Decider
	metrics http.Handler
	checks  []check
	logger  zerolog.Logger
}

// NewHandler builds the router. The admin routes exist only when an admin
// token is configured.
func NewHandler(config Config, updates Submitter, decider Decider, logger zerolog.Logger, opts ...Option) http.Handler {
	if config.AdminRate <= 0 {
		config.AdminRate = defaultAdminRate
	}
	s := &server{
		config:  config,
		updates: updates,
		decider: decider,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).
			Int("size", size).Dur("duration", duration).Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Post(UpdatePath, s.handleUpdate)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	if config.AdminToken != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httprate.LimitByIP(config.AdminRate, time.Minute))
			admin.Use(requireBearer(config.AdminToken))
			admin.Post("/appointments/{id}/{action}", s.handleDecision)
		})
	}
	return r
}

// handleUpdate answers 200 to authenticated deliveries, malformed ones
// included. Only an update the pool refused gets 503, so Telegram redelivers it.
func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.config.WebhookSecret != "" && !equal(r.Header.Get(SecretHeader), s.config.WebhookSecret) {
		hlog.FromRequest(r).Warn().Msg("webhook delivery with invalid secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to read update")
		writeOK(w)
		return
	}
	var upd tgbotapi.Update
	if err = json.Unmarshal(body, &upd); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int("size", len(body)).Msg("malformed update")
		writeOK(w)
		return
	}

	if err = s.updates.Submit(r.Context(), upd); err != nil {
		hlog.FromRequest(r).Error().Err(err).Int("update_id", upd.UpdateID).Msg("failed to queue update")
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	writeOK(w)
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

func (s *server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	var req decisionRequest
	if r.ContentLength != 0 {
		if err = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)

	action := chi.URLParam(r, "action")
	switch action {
	case "confirm":
		err = s.decider.Confirm(r.Context(), id)
	case "reject":
		err = s.decider.Reject(r.Context(), id, reason)
	case "cancel":
		err = s.decider.CancelByDoctor(r.Context(), id, reason)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	case errors.Is(err, model.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, "appointment already processed")
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Int64("appointment_id", id).Str("action", action).Msg("decision failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hlog.FromRequest(r).Info().Int64("appointment_id", id).Str("action", action).Msg("admin decision applied")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "ok"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.p.Ping(ctx); err != nil {
			failed[c.name] = err.Error()
		}
	}
	if len(failed) > 0 {
		hlog.FromRequest(r).Warn().Interface("failed", failed).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !equal(strings.TrimSpace(got), token) {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
