package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Driver runs materialized statements against one backend database.
// Statement.Procedure selects a stored-procedure call over literal SQL text.
type Driver interface {
	// ExecuteScalar returns the first column of the first row, or nil when there are no rows.
	ExecuteScalar(ctx context.Context, stmt models.Statement) (any, error)

	// ExecuteNonQuery runs the statement in a transaction and returns the affected row count.
	// The transaction is rolled back on any error.
	ExecuteNonQuery(ctx context.Context, stmt models.Statement) (int64, error)

	// FillTable returns the first result set.
	FillTable(ctx context.Context, stmt models.Statement) (*models.Table, error)

	// FillSet returns every result set.
	FillSet(ctx context.Context, stmt models.Statement) (*models.DataSet, error)

	// Backend identifies the dialect.
	Backend() models.Backend

	// Close releases the driver. Pooled connections stay open under the connection manager.
	Close() error
}

// Identity is the caller a connection is opened for. An empty UserID shares one pool per
// database; impersonating databases open a pool per user with the caller's access token.
type Identity struct {
	UserID      string
	AccessToken string
}

// ConnectionTester verifies a database is reachable.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}
