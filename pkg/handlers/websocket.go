package handlers

import (
	"net/http"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"github.com/anatoly-dev/game-realtime/pkg/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	wsManager *websocket.Manager
	logger    *zap.Logger
}

func NewWebSocketHandler(wsManager *websocket.Manager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		logger:    logger,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("WebSocket connection request",
		zap.String("remoteAddr", r.RemoteAddr),
		zap.String("userAgent", r.UserAgent()))
	h.wsManager.HandleConnection(w, r)
}

type HealthCheckHandler struct {
	registry  *registry.Registry
	wsManager *websocket.Manager
	serverID  string
	logger    *zap.Logger
}

type healthResponse struct {
	Status   string                `json:"status"`
	ServerID string                `json:"serverId"`
	Stats    models.AggregateStats `json:"stats"`
}

func NewHealthCheckHandler(reg *registry.Registry, wsManager *websocket.Manager, serverID string, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		registry:  reg,
		wsManager: wsManager,
		serverID:  serverID,
		logger:    logger,
	}
}

func (h *HealthCheckHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		ServerID: h.serverID,
		Stats:    h.registry.Stats(),
	}
	status := http.StatusOK
	if !h.wsManager.Accepting() {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	h.logger.Debug("Health check", zap.Int("clientCount", resp.Stats.Connections))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to write health response", zap.Error(err))
	}
}
