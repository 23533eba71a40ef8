package datasource

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// DriverInfo describes a registered backend.
type DriverInfo struct {
	Backend     models.Backend `json:"backend"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
}

// OpenRequest carries everything a backend needs to open a connection pool.
type OpenRequest struct {
	ConnectionString string
	Impersonate      bool
	Identity         Identity
}

// DriverRegistration contains info plus the functions that open pools and wrap them as drivers.
type DriverRegistration struct {
	Info      DriverInfo
	Open      func(ctx context.Context, req OpenRequest) (*sql.DB, error)
	NewDriver func(db *sql.DB, logger *zap.Logger) Driver
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.Backend]DriverRegistration)
)

// Register is called by each backend's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DriverRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Backend] = reg
}

// RegisteredDrivers returns info for all registered backends, sorted by backend name.
func RegisteredDrivers() []DriverInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DriverInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Backend < result[j].Backend })
	return result
}

// GetRegistration returns the registration for a backend.
func GetRegistration(backend models.Backend) (DriverRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[backend]
	return reg, ok
}

// IsRegistered checks if a backend is available.
func IsRegistered(backend models.Backend) bool {
	_, ok := GetRegistration(backend)
	return ok
}
