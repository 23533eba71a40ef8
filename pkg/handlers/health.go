package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
)

// ConnectionStatsProvider reports backend pool statistics.
type ConnectionStatsProvider interface {
	GetStats() datasource.ConnectionStats
}

// CacheStatsProvider reports result cache statistics.
type CacheStatsProvider interface {
	CacheStats() services.CacheStats
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                      `json:"status"`
	Connections *datasource.ConnectionStats `json:"connections,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string               `json:"status"`
	Version     string               `json:"version"`
	Service     string               `json:"service"`
	GoVersion   string               `json:"go_version"`
	Hostname    string               `json:"hostname"`
	Environment string               `json:"environment"`
	Catalog     string               `json:"catalog"`
	Cache       *services.CacheStats `json:"cache,omitempty"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg         *config.Config
	connections ConnectionStatsProvider
	cache       CacheStatsProvider
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. connections and cache may be nil.
func NewHealthHandler(cfg *config.Config, connections ConnectionStatsProvider, cache CacheStatsProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, connections: connections, cache: cache, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok"}
	if h.connections != nil {
		stats := h.connections.GetStats()
		response.Connections = &stats
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version, environment and cache counters.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-query-gateway",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Catalog:     h.cfg.Catalog.Source,
	}
	if h.cache != nil {
		stats := h.cache.CacheStats()
		response.Cache = &stats
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
