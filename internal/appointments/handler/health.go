package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"medibook/pkg/client"
	httputil "medibook/pkg/http"
	"medibook/pkg/logger"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Locks    string `json:"locks,omitempty"`
}

type HealthHandler struct {
	clients *client.Client
	log     *logger.Logger
}

func NewHealthHandler(clients *client.Client, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		clients: clients,
		log:     log,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Health", "error", err)
	}
}

// Ready probes both stores: the service cannot reserve without Redis
// nor persist without Mongo.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ready", Database: "ok", Locks: "ok"}
	status := http.StatusOK

	if err := h.clients.Mongo.Ping(ctx, nil); err != nil {
		h.log.Error("Database health check failed", "error", err)
		resp = HealthResponse{Status: "unavailable", Database: "error", Locks: resp.Locks}
		status = http.StatusServiceUnavailable
	}

	if err := h.clients.Redis.Ping(ctx).Err(); err != nil {
		h.log.Error("Lock store health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Locks = "error"
		status = http.StatusServiceUnavailable
	}

	if err := httputil.WriteJSON(w, status, resp); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Ready", "error", err)
	}
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
