package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// PoolConnector is an interface that abstracts connection pool operations
// across the supported backends.
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string
}

// SQLPool wraps *sql.DB to implement PoolConnector.
type SQLPool struct {
	db      *sql.DB
	backend models.Backend
}

// NewSQLPool creates a new database/sql pool wrapper.
func NewSQLPool(db *sql.DB, backend models.Backend) *SQLPool {
	return &SQLPool{db: db, backend: backend}
}

func (w *SQLPool) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *SQLPool) Close() error {
	return w.db.Close()
}

func (w *SQLPool) GetType() string {
	return string(w.backend)
}

// GetDB returns the underlying *sql.DB
func (w *SQLPool) GetDB() *sql.DB {
	return w.db
}

// GetSQLDB extracts the underlying *sql.DB from a PoolConnector.
func GetSQLDB(connector PoolConnector) (*sql.DB, error) {
	wrapper, ok := connector.(*SQLPool)
	if !ok {
		return nil, fmt.Errorf("connector is not a database/sql pool wrapper")
	}
	return wrapper.GetDB(), nil
}
