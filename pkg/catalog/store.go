// Package catalog resolves logical query keys to query, database and mailer specifications.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Store resolves configuration by name. Keys are matched case-insensitively.
type Store interface {
	// GetQuery returns the query for key, or an error wrapping apperrors.ErrNotFound.
	GetQuery(ctx context.Context, key string) (*models.QuerySpecification, error)

	// GetDatabase returns the named database, or an error wrapping apperrors.ErrDatabaseNotMapped.
	GetDatabase(ctx context.Context, name string) (*models.DatabaseSpecification, error)

	// GetMailer returns the named mailer, or an error wrapping apperrors.ErrNotFound.
	GetMailer(ctx context.Context, name string) (*models.MailerSpecification, error)

	// ListQueries returns every query ordered by key.
	ListQueries(ctx context.Context) ([]*models.QuerySpecification, error)
}

// Writer persists catalog entries. Implemented by the Postgres repository.
type Writer interface {
	UpsertDatabase(ctx context.Context, db *models.DatabaseSpecification) error
	UpsertMailer(ctx context.Context, m *models.MailerSpecification) error
	UpsertQuery(ctx context.Context, q *models.QuerySpecification) error
}

// Document is a complete catalog, as read from catalog.yaml.
type Document struct {
	Databases []*models.DatabaseSpecification `yaml:"databases"`
	Mailers   []*models.MailerSpecification   `yaml:"mailers"`
	Queries   []*models.QuerySpecification    `yaml:"queries"`
}

// Import writes every entry of doc. Databases and mailers go first so query references resolve.
func Import(ctx context.Context, w Writer, doc *Document) error {
	for _, db := range doc.Databases {
		if err := w.UpsertDatabase(ctx, db); err != nil {
			return fmt.Errorf("failed to import database %q: %w", db.Name, err)
		}
	}
	for _, m := range doc.Mailers {
		if err := w.UpsertMailer(ctx, m); err != nil {
			return fmt.Errorf("failed to import mailer %q: %w", m.Name, err)
		}
	}
	for _, q := range doc.Queries {
		if err := w.UpsertQuery(ctx, q); err != nil {
			return fmt.Errorf("failed to import query %q: %w", q.Key, err)
		}
	}
	return nil
}

// Export reads the whole catalog from s.
func Export(ctx context.Context, s Store) (*Document, error) {
	queries, err := s.ListQueries(ctx)
	if err != nil {
		return nil, err
	}

	doc := &Document{Queries: queries}
	seenDB := make(map[string]bool)
	seenMailer := make(map[string]bool)
	for _, q := range queries {
		if name := strings.ToLower(q.Database); name != "" && !seenDB[name] {
			seenDB[name] = true
			db, err := s.GetDatabase(ctx, q.Database)
			if err != nil {
				return nil, fmt.Errorf("query %q: %w", q.Key, err)
			}
			doc.Databases = append(doc.Databases, db)
		}
		if name := strings.ToLower(q.Mailer); name != "" && !seenMailer[name] {
			seenMailer[name] = true
			m, err := s.GetMailer(ctx, q.Mailer)
			if err != nil {
				return nil, fmt.Errorf("query %q: %w", q.Key, err)
			}
			doc.Mailers = append(doc.Mailers, m)
		}
	}
	return doc, nil
}

func notFound(what, name string) error {
	return fmt.Errorf("%s %q: %w", what, name, apperrors.ErrNotFound)
}

func notMapped(name string) error {
	return fmt.Errorf("database %q: %w", name, apperrors.ErrDatabaseNotMapped)
}

func sortQueries(qs []*models.QuerySpecification) {
	sort.Slice(qs, func(i, j int) bool {
		return strings.ToLower(qs[i].Key) < strings.ToLower(qs[j].Key)
	})
}

// CloneQuery returns a copy of q that shares nothing mutable with it.
func CloneQuery(q *models.QuerySpecification) *models.QuerySpecification {
	c := *q
	if q.Processor != nil {
		p := *q.Processor
		c.Processor = &p
	}
	return &c
}

func cloneMailer(m *models.MailerSpecification) *models.MailerSpecification {
	c := *m
	c.To = append([]string(nil), m.To...)
	c.Cc = append([]string(nil), m.Cc...)
	return &c
}
