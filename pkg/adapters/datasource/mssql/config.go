package mssql

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// AuthSQL authenticates with the user and password in the connection string.
	AuthSQL = "sql"
	// AuthServicePrincipal authenticates with Azure AD client credentials (fedauth=ActiveDirectoryServicePrincipal).
	AuthServicePrincipal = "service_principal"
	// AuthUserDelegation authenticates with the caller's Azure AD access token.
	AuthUserDelegation = "user_delegation"
)

// Config is a parsed SQL Server connection string.
type Config struct {
	// URL is the sqlserver:// connection URL.
	URL *url.URL

	// AuthMethod determines which authentication to use
	// Options: "sql", "service_principal", "user_delegation"
	AuthMethod string

	// User Delegation - token from JWT (injected at runtime)
	AzureAccessToken string
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// FromConnectionString parses a sqlserver:// URL. The auth method is detected from the
// fedauth query parameter.
func FromConnectionString(connString string) (*Config, error) {
	u, err := url.Parse(strings.TrimSpace(connString))
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if u.Scheme != "sqlserver" && u.Scheme != "mssql" {
		return nil, fmt.Errorf("connection string must use the sqlserver:// scheme, got %q", u.Scheme)
	}
	u.Scheme = "sqlserver"
	if u.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	cfg := &Config{URL: u, AuthMethod: AuthSQL}
	switch strings.ToLower(u.Query().Get("fedauth")) {
	case "activedirectoryserviceprincipal":
		cfg.AuthMethod = AuthServicePrincipal
	case "activedirectoryaccesstoken":
		cfg.AuthMethod = AuthUserDelegation
	}
	return cfg, nil
}

// WithAccessToken switches the config to user delegation with the given token.
// Any credentials in the original URL are dropped.
func (c *Config) WithAccessToken(token string) *Config {
	u := *c.URL
	u.User = nil
	q := u.Query()
	q.Del("user id")
	q.Set("fedauth", "ActiveDirectoryAccessToken")
	q.Set("password", token)
	u.RawQuery = q.Encode()
	return &Config{URL: &u, AuthMethod: AuthUserDelegation, AzureAccessToken: token}
}

// DriverName returns the database/sql driver for the auth method. Service principals need the
// azuresql driver registered by go-mssqldb/azuread.
func (c *Config) DriverName() string {
	if c.AuthMethod == AuthServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// Validate checks that the config has what its auth method needs.
func (c *Config) Validate() error {
	switch c.AuthMethod {
	case AuthSQL:
		if c.URL.User == nil || c.URL.User.Username() == "" {
			return fmt.Errorf("sql auth requires a user in the connection string")
		}
	case AuthServicePrincipal:
		q := c.URL.Query()
		if q.Get("user id") == "" || q.Get("password") == "" {
			return fmt.Errorf("service_principal auth requires user id and password (client id and secret)")
		}
	case AuthUserDelegation:
		if c.AzureAccessToken == "" && c.URL.Query().Get("password") == "" {
			return fmt.Errorf("user_delegation auth requires an Azure access token")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
	return nil
}

// String returns the connection URL.
func (c *Config) String() string {
	return c.URL.String()
}
