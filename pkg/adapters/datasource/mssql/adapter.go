package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
)

// Open creates a SQL Server pool for the request.
// Supports three authentication methods:
//  1. SQL Authentication (user/password in the URL)
//  2. Service Principal (fedauth=ActiveDirectoryServicePrincipal)
//  3. User Delegation (the caller's Azure AD token, for impersonating databases)
func Open(ctx context.Context, req datasource.OpenRequest) (*sql.DB, error) {
	cfg, err := FromConnectionString(req.ConnectionString)
	if err != nil {
		return nil, err
	}

	if req.Impersonate {
		if req.Identity.AccessToken == "" {
			return nil, fmt.Errorf("user_delegation auth requires Azure access token in request context")
		}
		cfg = cfg.WithAccessToken(req.Identity.AccessToken)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open(cfg.DriverName(), cfg.String())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
	}
	return db, nil
}
