// Package api exposes the operational HTTP surface: health and status.
// Domain traffic (interactions, pet reads) enters through other
// boundaries; this server exists for probes and dashboards.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pawlab/petstate/internal/queue"
	"go.uber.org/zap"
)

// EntityCounter reports the number of entities under management.
type EntityCounter interface {
	CountEntities(ctx context.Context) (int64, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	queues    *queue.Service
	queueName string
	entities  EntityCounter
	started   time.Time
	logger    *zap.Logger
}

// NewHandler creates a new API handler. entities may be nil when the
// service runs without Postgres.
func NewHandler(queues *queue.Service, queueName string, entities EntityCounter, logger *zap.Logger) *Handler {
	return &Handler{
		queues:    queues,
		queueName: queueName,
		entities:  entities,
		started:   time.Now(),
		logger:    logger,
	}
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.healthCheck)
	r.Get("/v1/status", h.status)

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	UptimeSeconds int64      `json:"uptime_seconds"`
	Queue         queue.Info `json:"queue"`
	QueueName     string     `json:"queue_name"`
	EntityCount   *int64     `json:"entity_count,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		QueueName:     h.queueName,
	}

	if h.queues != nil {
		info, err := h.queues.QueueInfo(r.Context(), h.queueName)
		if err != nil {
			h.logger.Warn("queue info failed", zap.Error(err))
		} else {
			resp.Queue = info
		}
	}
	if h.entities != nil {
		n, err := h.entities.CountEntities(r.Context())
		if err != nil {
			h.logger.Warn("entity count failed", zap.Error(err))
		} else {
			resp.EntityCount = &n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
