// Package server exposes the REST surface: the public event listing,
// the notification trigger, and the admin CRUD for events and devices.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"popup-events/internal/common/config"
	"popup-events/internal/common/logger"
	"popup-events/internal/models"
	"popup-events/internal/scheduler"
)

// EventRepository is the slice of the event store the handlers need.
type EventRepository interface {
	ListPopups(ctx context.Context) ([]models.Event, error)
	ListAll(ctx context.Context) ([]models.Event, error)
	GetByID(ctx context.Context, id int64) (*models.Event, error)
	Create(ctx context.Context, ev *models.Event) error
	Update(ctx context.Context, ev *models.Event, resetFlags bool) error
	Delete(ctx context.Context, id int64) error
}

// DeviceRepository is the slice of the device store the handlers need.
type DeviceRepository interface {
	Register(ctx context.Context, d *models.DeviceToken) error
	ListAll(ctx context.Context) ([]models.DeviceToken, error)
	Delete(ctx context.Context, id int64) error
}

// Ticker runs one notification scan-and-send cycle.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) ([]scheduler.Sent, error)
}

// TickGuard is the single-flight lock around Ticker.
type TickGuard interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Sink sends an immediate push (used for new-event announcements).
type Sink interface {
	Send(ctx context.Context, title, body string) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     config.Config
	events  EventRepository
	devices DeviceRepository
	ticker  Ticker
	guard   TickGuard
	sink    Sink
	db      Pinger
	log     logger.Logger
	now     func() time.Time
}

func New(cfg config.Config, events EventRepository, devices DeviceRepository,
	ticker Ticker, guard TickGuard, sink Sink, db Pinger, log logger.Logger) *Server {
	return &Server{
		cfg:     cfg,
		events:  events,
		devices: devices,
		ticker:  ticker,
		guard:   guard,
		sink:    sink,
		db:      db,
		log:     log.WithFields(map[string]interface{}{"component": "server"}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/public/events", s.handlePublicEvents)
	mux.HandleFunc("POST /api/public/register-device", s.handleRegisterDevice)
	mux.HandleFunc("POST /api/check-event-notifications", s.handleCheckNotifications)

	mux.HandleFunc("GET /api/events", s.requireAdmin(s.handleListEvents))
	mux.HandleFunc("POST /api/events", s.requireAdmin(s.handleUpsertEvent))
	mux.HandleFunc("DELETE /api/events/{id}", s.requireAdmin(s.handleDeleteEvent))

	mux.HandleFunc("GET /api/devices", s.requireAdmin(s.handleListDevices))
	mux.HandleFunc("DELETE /api/devices/{id}", s.requireAdmin(s.handleDeleteDevice))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// requireAdmin gates a handler behind the configured bearer token. With
// no token configured (local development) the gate is open.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.AdminToken != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Server.AdminToken {
				s.writeError(w, http.StatusUnauthorized, "admin token required")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", map[string]interface{}{"error": err})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{"error": msg})
}
