// Package repositories stores the query catalog in Postgres.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/catalog"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/database"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// CatalogRepository reads and writes catalog entries. It satisfies catalog.Store and
// catalog.Writer. Connection strings are stored as given; encrypted entries stay ciphertext.
type CatalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a repository on db.
func NewCatalogRepository(db *database.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const querySelect = `
	SELECT key, query, shape, parameters, cursors, database_name,
	       processor_name, processor_path, processor_class,
	       mailer_name, send_output_via_email, cache_enabled, cache_ttl_seconds,
	       udt_mapping, description
	FROM gateway_queries`

func (r *CatalogRepository) GetQuery(ctx context.Context, key string) (*models.QuerySpecification, error) {
	row := r.db.QueryRow(ctx, querySelect+` WHERE lower(key) = lower($1)`, key)
	q, err := scanQuery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query %q: %w", key, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query %q: %w", key, err)
	}
	return q, nil
}

func (r *CatalogRepository) ListQueries(ctx context.Context) ([]*models.QuerySpecification, error) {
	rows, err := r.db.Query(ctx, querySelect+` ORDER BY lower(key)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var out []*models.QuerySpecification
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	return out, nil
}

func scanQuery(row pgx.Row) (*models.QuerySpecification, error) {
	var (
		q                         models.QuerySpecification
		shape, udt                string
		procName, procPath, class *string
		mailer                    *string
	)
	err := row.Scan(&q.Key, &q.Query, &shape, &q.Parameters, &q.Cursors, &q.Database,
		&procName, &procPath, &class,
		&mailer, &q.SendOutputViaEmail, &q.Cache.Enabled, &q.Cache.TTLSeconds,
		&udt, &q.Description)
	if err != nil {
		return nil, err
	}

	if q.Shape, err = models.ParseExecutionShape(shape); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, fmt.Sprintf("query %q", q.Key), err)
	}
	q.UDTMapping = models.UDTMapping(udt)
	if mailer != nil {
		q.Mailer = *mailer
	}
	if procName != nil || procPath != nil || class != nil {
		q.Processor = &models.PluginReference{Name: deref(procName), Path: deref(procPath), ClassName: deref(class)}
	}
	return &q, nil
}

func (r *CatalogRepository) GetDatabase(ctx context.Context, name string) (*models.DatabaseSpecification, error) {
	var (
		db      models.DatabaseSpecification
		backend string
	)
	err := r.db.QueryRow(ctx, `
		SELECT name, backend, connection_string, encrypted, impersonate
		FROM gateway_databases
		WHERE lower(name) = lower($1)`, name).
		Scan(&db.Name, &backend, &db.ConnectionString, &db.Encrypted, &db.Impersonate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("database %q: %w", name, apperrors.ErrDatabaseNotMapped)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get database %q: %w", name, err)
	}
	db.Backend = models.Backend(backend)
	return &db, nil
}

func (r *CatalogRepository) GetMailer(ctx context.Context, name string) (*models.MailerSpecification, error) {
	var m models.MailerSpecification
	err := r.db.QueryRow(ctx, `
		SELECT name, from_address, to_addresses, cc_addresses, subject, body
		FROM gateway_mailers
		WHERE lower(name) = lower($1)`, name).
		Scan(&m.Name, &m.From, &m.To, &m.Cc, &m.Subject, &m.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mailer %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailer %q: %w", name, err)
	}
	return &m, nil
}

func (r *CatalogRepository) UpsertDatabase(ctx context.Context, db *models.DatabaseSpecification) error {
	backend, err := models.ParseBackend(string(db.Backend))
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, fmt.Sprintf("database %q", db.Name), err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO gateway_databases (name, backend, connection_string, encrypted, impersonate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ((lower(name))) DO UPDATE SET
			backend = EXCLUDED.backend,
			connection_string = EXCLUDED.connection_string,
			encrypted = EXCLUDED.encrypted,
			impersonate = EXCLUDED.impersonate,
			updated_at = now()`,
		db.Name, string(backend), db.ConnectionString, db.Encrypted, db.Impersonate)
	if err != nil {
		return fmt.Errorf("failed to upsert database %q: %w", db.Name, err)
	}
	return nil
}

func (r *CatalogRepository) UpsertMailer(ctx context.Context, m *models.MailerSpecification) error {
	to := m.To
	if to == nil {
		to = []string{}
	}
	cc := m.Cc
	if cc == nil {
		cc = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO gateway_mailers (name, from_address, to_addresses, cc_addresses, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ((lower(name))) DO UPDATE SET
			from_address = EXCLUDED.from_address,
			to_addresses = EXCLUDED.to_addresses,
			cc_addresses = EXCLUDED.cc_addresses,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			updated_at = now()`,
		m.Name, m.From, to, cc, m.Subject, m.Body)
	if err != nil {
		return fmt.Errorf("failed to upsert mailer %q: %w", m.Name, err)
	}
	return nil
}

// UpsertQuery stores q. The referenced database (and mailer, when set) must already exist.
func (r *CatalogRepository) UpsertQuery(ctx context.Context, q *models.QuerySpecification) error {
	if q.Shape == models.ShapeUnknown {
		return apperrors.Validation("query %q: shape is required", q.Key)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := requireName(ctx, tx, "gateway_databases", q.Database); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("query %q: database %q: %w", q.Key, q.Database, apperrors.ErrDatabaseNotMapped)
		}
		return err
	}
	if q.Mailer != "" {
		if err := requireName(ctx, tx, "gateway_mailers", q.Mailer); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("query %q: mailer %q: %w", q.Key, q.Mailer, apperrors.ErrNotFound)
			}
			return err
		}
	}

	var procName, procPath, class *string
	if p := q.Processor; p != nil {
		procName, procPath, class = nullable(p.Name), nullable(p.Path), nullable(p.ClassName)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO gateway_queries (key, query, shape, parameters, cursors, database_name,
			processor_name, processor_path, processor_class,
			mailer_name, send_output_via_email, cache_enabled, cache_ttl_seconds,
			udt_mapping, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT ((lower(key))) DO UPDATE SET
			query = EXCLUDED.query,
			shape = EXCLUDED.shape,
			parameters = EXCLUDED.parameters,
			cursors = EXCLUDED.cursors,
			database_name = EXCLUDED.database_name,
			processor_name = EXCLUDED.processor_name,
			processor_path = EXCLUDED.processor_path,
			processor_class = EXCLUDED.processor_class,
			mailer_name = EXCLUDED.mailer_name,
			send_output_via_email = EXCLUDED.send_output_via_email,
			cache_enabled = EXCLUDED.cache_enabled,
			cache_ttl_seconds = EXCLUDED.cache_ttl_seconds,
			udt_mapping = EXCLUDED.udt_mapping,
			description = EXCLUDED.description,
			updated_at = now()`,
		q.Key, q.Query, q.Shape.String(), q.Parameters, q.Cursors, q.Database,
		procName, procPath, class,
		nullable(q.Mailer), q.SendOutputViaEmail, q.Cache.Enabled, q.Cache.TTLSeconds,
		string(q.UDTMapping), q.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert query %q: %w", q.Key, err)
	}
	return tx.Commit(ctx)
}

// DeleteQuery removes the query for key.
func (r *CatalogRepository) DeleteQuery(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM gateway_queries WHERE lower(key) = lower($1)`, key)
	if err != nil {
		return fmt.Errorf("failed to delete query %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query %q: %w", key, apperrors.ErrNotFound)
	}
	return nil
}

func requireName(ctx context.Context, tx pgx.Tx, table, name string) error {
	var found string
	// table is always a literal from this file.
	return tx.QueryRow(ctx, `SELECT name FROM `+table+` WHERE lower(name) = lower($1)`, name).Scan(&found)
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ catalog.Store  = (*CatalogRepository)(nil)
	_ catalog.Writer = (*CatalogRepository)(nil)
)
