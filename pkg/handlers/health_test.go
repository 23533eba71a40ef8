package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
)

type staticConnStats datasource.ConnectionStats

func (s staticConnStats) GetStats() datasource.ConnectionStats { return datasource.ConnectionStats(s) }

type staticCacheStats services.CacheStats

func (s staticCacheStats) CacheStats() services.CacheStats { return services.CacheStats(s) }

func testConfig() *config.Config {
	return &config.Config{
		Version: "test-version",
		Env:     "test",
		Catalog: config.CatalogConfig{Source: config.CatalogSourceFile},
	}
}

func TestHealthHandler_Health_WithoutConnManager(t *testing.T) {
	handler := NewHealthHandler(testConfig(), nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
	assert.Nil(t, response.Connections, "expected no connections when conn manager not provided")
}

func TestHealthHandler_Health_WithConnections(t *testing.T) {
	stats := staticConnStats{
		TotalConnections:      2,
		MaxConnectionsPerUser: 10,
		TTLMinutes:            5,
		ConnectionsByDatabase: map[string]int{"erp": 2},
		ConnectionsByBackend:  map[string]int{"mssql": 2},
	}
	handler := NewHealthHandler(testConfig(), stats, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.NotNil(t, response.Connections)
	assert.Equal(t, 2, response.Connections.TotalConnections)
	assert.Equal(t, 2, response.Connections.ConnectionsByDatabase["erp"])
}

func TestHealthHandler_Health_RealConnectionManager(t *testing.T) {
	connManager := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:            5,
		MaxConnectionsPerUser: 10,
		PoolMaxConns:          10,
		PoolMinConns:          1,
	}, zap.NewNop())
	defer connManager.Close()

	handler := NewHealthHandler(testConfig(), connManager, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.NotNil(t, response.Connections)
	assert.Equal(t, 0, response.Connections.TotalConnections)
	assert.Equal(t, 10, response.Connections.MaxConnectionsPerUser)
}

func TestHealthHandler_Ping(t *testing.T) {
	cache := staticCacheStats{Entries: 3, Hits: 7, Misses: 2, Policy: "elapsed"}
	handler := NewHealthHandler(testConfig(), nil, cache, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var response PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "test-version", response.Version)
	assert.Equal(t, "ekaya-query-gateway", response.Service)
	assert.Equal(t, "test", response.Environment)
	assert.Equal(t, "file", response.Catalog)
	require.NotNil(t, response.Cache)
	assert.Equal(t, uint64(7), response.Cache.Hits)
}
