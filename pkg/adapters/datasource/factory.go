package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// DriverFactory creates drivers from the registry.
type DriverFactory interface {
	// NewDriver returns a driver for the database. connString must already be decrypted.
	NewDriver(ctx context.Context, db *models.DatabaseSpecification, connString string, identity Identity) (Driver, error)

	// ListBackends returns info for all registered backends.
	ListBackends() []DriverInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
	logger  *zap.Logger
	rewrite func(string) string
}

// FactoryOption configures a DriverFactory.
type FactoryOption func(*registryFactory)

// WithConnectionRewriter transforms every connection string before it is opened.
func WithConnectionRewriter(fn func(string) string) FactoryOption {
	return func(f *registryFactory) { f.rewrite = fn }
}

// NewDriverFactory returns a factory that uses the global registry and pools connections
// through connMgr.
func NewDriverFactory(connMgr *ConnectionManager, logger *zap.Logger, opts ...FactoryOption) DriverFactory {
	f := &registryFactory{
		connMgr: connMgr,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *registryFactory) NewDriver(ctx context.Context, db *models.DatabaseSpecification, connString string, identity Identity) (Driver, error) {
	reg, ok := GetRegistration(db.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedBackend, db.Backend)
	}

	userID := ""
	if db.Impersonate {
		if identity.UserID == "" || identity.AccessToken == "" {
			return nil, fmt.Errorf("database %q connects as the caller: %w", db.Name, apperrors.ErrAccessTokenRequired)
		}
		userID = identity.UserID
	}

	if f.rewrite != nil {
		connString = f.rewrite(connString)
	}
	req := OpenRequest{ConnectionString: connString, Impersonate: db.Impersonate, Identity: identity}
	pool, err := f.connMgr.GetOrCreatePool(ctx, db.Name, userID, db.Backend, func(ctx context.Context) (PoolConnector, error) {
		sqlDB, err := reg.Open(ctx, req)
		if err != nil {
			return nil, err
		}
		return NewSQLPool(sqlDB, db.Backend), nil
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := GetSQLDB(pool)
	if err != nil {
		return nil, err
	}
	return reg.NewDriver(sqlDB, f.logger.Named(string(db.Backend))), nil
}

func (f *registryFactory) ListBackends() []DriverInfo {
	return RegisteredDrivers()
}

// Ensure registryFactory implements DriverFactory at compile time.
var _ DriverFactory = (*registryFactory)(nil)
