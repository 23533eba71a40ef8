package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes content to config.yaml in a temp dir and changes into it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	return configPath
}

const minimalYAML = `
auth:
  enable_verification: false
`

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, minimalYAML)
	os.Unsetenv("BASE_URL")
	os.Unsetenv("CATALOG_SOURCE")

	cfg, err := Load("1.2.3")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Version != "1.2.3" {
		t.Errorf("expected Version=1.2.3, got %s", cfg.Version)
	}
	if cfg.Port != "3443" {
		t.Errorf("expected default Port=3443, got %s", cfg.Port)
	}
	if cfg.Catalog.Source != CatalogSourceFile {
		t.Errorf("expected catalog source %q, got %q", CatalogSourceFile, cfg.Catalog.Source)
	}
	if cfg.Catalog.Path != "catalog.yaml" {
		t.Errorf("expected catalog path catalog.yaml, got %s", cfg.Catalog.Path)
	}
	if !cfg.Security.RejectInjection {
		t.Error("expected reject_injection to default to true")
	}
	if cfg.Cache.LegacyExpiry {
		t.Error("expected legacy_expiry to default to false")
	}
	if cfg.Cache.MaxEntries != 1000 {
		t.Errorf("expected cache max_entries=1000, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Mail.TLSPolicy != "mandatory" {
		t.Errorf("expected SMTP TLS policy mandatory, got %s", cfg.Mail.TLSPolicy)
	}
	if cfg.BaseURL != "http://localhost:3443" {
		t.Errorf("expected derived BaseURL, got %s", cfg.BaseURL)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "3443"
env: "test"
auth:
  enable_verification: false
catalog:
  source: "file"
  path: "queries.yaml"
cache:
  legacy_expiry: false
  max_entries: 50
database:
  host: "db.example.com"
  user: "testuser"
`)
	os.Unsetenv("BASE_URL")
	os.Unsetenv("PGHOST")

	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CATALOG_SOURCE", "postgres")
	t.Setenv("CACHE_LEGACY_EXPIRY", "true")
	t.Setenv("PGPASSWORD", "secret-from-env")
	t.Setenv("CREDENTIALS_KEY", "key-from-env")
	t.Setenv("SMTP_PASSWORD", "smtp-secret")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Catalog.Source != CatalogSourcePostgres {
		t.Errorf("expected catalog source postgres (from env), got %s", cfg.Catalog.Source)
	}
	if cfg.Catalog.Path != "queries.yaml" {
		t.Errorf("expected catalog path from YAML, got %s", cfg.Catalog.Path)
	}
	if !cfg.Cache.LegacyExpiry {
		t.Error("expected legacy_expiry=true (from env)")
	}
	if cfg.Cache.MaxEntries != 50 {
		t.Errorf("expected max_entries=50 (from YAML), got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected database host from YAML, got %s", cfg.Database.Host)
	}
	if cfg.Database.Password != "secret-from-env" {
		t.Errorf("expected database password from env, got %q", cfg.Database.Password)
	}
	if cfg.CredentialsKey != "key-from-env" {
		t.Errorf("expected credentials key from env, got %q", cfg.CredentialsKey)
	}
	if cfg.Mail.Password != "smtp-secret" {
		t.Errorf("expected SMTP password from env, got %q", cfg.Mail.Password)
	}
	if cfg.BaseURL != "http://localhost:4443" {
		t.Errorf("expected BaseURL derived from env port, got %s", cfg.BaseURL)
	}
}

func TestLoad_SecretsIgnoredInYAML(t *testing.T) {
	writeConfig(t, `
auth:
  enable_verification: false
database:
  password: "from-yaml"
`)
	os.Unsetenv("PGPASSWORD")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Password != "" {
		t.Errorf("expected password in YAML to be ignored, got %q", cfg.Database.Password)
	}
}

func TestLoad_JWKSEndpoints(t *testing.T) {
	writeConfig(t, `
auth:
  enable_verification: true
  jwks_endpoints: "https://login.example.com/tenant/v2.0=https://login.example.com/keys, https://other.example.com = https://other.example.com/jwks"
`)

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Auth.JWKSEndpoints) != 2 {
		t.Fatalf("expected 2 JWKS endpoints, got %d", len(cfg.Auth.JWKSEndpoints))
	}
	if got := cfg.Auth.JWKSEndpoints["https://other.example.com"]; got != "https://other.example.com/jwks" {
		t.Errorf("expected trimmed JWKS URL, got %q", got)
	}
}

func TestLoad_VerificationRequiresEndpoints(t *testing.T) {
	writeConfig(t, `
auth:
  enable_verification: true
`)
	os.Unsetenv("JWKS_ENDPOINTS")

	_, err := Load("test")
	if err == nil {
		t.Fatal("expected error when verification is enabled without JWKS endpoints")
	}
	if !strings.Contains(err.Error(), "jwks_endpoints") {
		t.Errorf("expected jwks_endpoints in error, got %v", err)
	}
}

func TestLoad_InvalidCatalogSource(t *testing.T) {
	writeConfig(t, minimalYAML+`
catalog:
  source: "redis"
`)
	os.Unsetenv("CATALOG_SOURCE")

	_, err := Load("test")
	if err == nil {
		t.Fatal("expected error for unknown catalog source")
	}
	if !strings.Contains(err.Error(), "catalog.source") {
		t.Errorf("expected catalog.source in error, got %v", err)
	}
}

func TestLoad_TLSRequiresBothFiles(t *testing.T) {
	writeConfig(t, minimalYAML+`
tls_cert_path: "/tmp/does-not-matter.pem"
`)
	os.Unsetenv("TLS_KEY_PATH")

	_, err := Load("test")
	if err == nil {
		t.Fatal("expected error when only tls_cert_path is set")
	}
	if !strings.Contains(err.Error(), "must be provided together") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_TLSDerivesHTTPSBaseURL(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	for _, p := range []string{cert, key} {
		if err := os.WriteFile(p, []byte("pem"), 0600); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}

	writeConfig(t, minimalYAML+`
port: "8443"
tls_cert_path: "`+cert+`"
tls_key_path: "`+key+`"
`)
	os.Unsetenv("BASE_URL")
	os.Unsetenv("PORT")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BaseURL != "https://localhost:8443" {
		t.Errorf("expected https BaseURL, got %s", cfg.BaseURL)
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"), "test")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "catalog.internal",
		Port:     5433,
		User:     "gateway",
		Password: "pw",
		Database: "query_gateway",
		SSLMode:  "require",
	}

	want := "host=catalog.internal port=5433 user=gateway password=pw dbname=query_gateway sslmode=require"
	if got := db.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
