package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// FileStore serves the catalog from a YAML file held in memory. Reload swaps the whole
// catalog atomically.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	queries   map[string]*models.QuerySpecification
	databases map[string]*models.DatabaseSpecification
	mailers   map[string]*models.MailerSpecification
}

// LoadFile reads and checks the catalog at path.
func LoadFile(path string, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFileStore builds a store from an already parsed document.
func NewFileStore(doc *Document, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{logger: logger}
	if err := s.load(doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previous catalog stays in place.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", s.path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", s.path, err)
	}
	return s.load(doc)
}

// Parse decodes a catalog document and normalizes backend names.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for _, db := range doc.Databases {
		if db == nil {
			continue
		}
		backend, err := models.ParseBackend(string(db.Backend))
		if err != nil {
			return nil, fmt.Errorf("database %q: %w", db.Name, err)
		}
		db.Backend = backend
	}
	return &doc, nil
}

func (s *FileStore) load(doc *Document) error {
	if err := Check(doc); err != nil {
		return err
	}

	queries := make(map[string]*models.QuerySpecification, len(doc.Queries))
	for _, q := range doc.Queries {
		queries[strings.ToLower(q.Key)] = CloneQuery(q)
	}
	databases := make(map[string]*models.DatabaseSpecification, len(doc.Databases))
	for _, db := range doc.Databases {
		c := *db
		databases[strings.ToLower(db.Name)] = &c
	}
	mailers := make(map[string]*models.MailerSpecification, len(doc.Mailers))
	for _, m := range doc.Mailers {
		mailers[strings.ToLower(m.Name)] = cloneMailer(m)
	}

	s.mu.Lock()
	s.queries, s.databases, s.mailers = queries, databases, mailers
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Loaded query catalog",
			zap.String("path", s.path),
			zap.Int("queries", len(queries)),
			zap.Int("databases", len(databases)),
			zap.Int("mailers", len(mailers)))
	}
	return nil
}

func (s *FileStore) GetQuery(ctx context.Context, key string) (*models.QuerySpecification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[strings.ToLower(key)]
	if !ok {
		return nil, notFound("query", key)
	}
	return CloneQuery(q), nil
}

func (s *FileStore) GetDatabase(ctx context.Context, name string) (*models.DatabaseSpecification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.databases[strings.ToLower(name)]
	if !ok {
		return nil, notMapped(name)
	}
	c := *db
	return &c, nil
}

func (s *FileStore) GetMailer(ctx context.Context, name string) (*models.MailerSpecification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mailers[strings.ToLower(name)]
	if !ok {
		return nil, notFound("mailer", name)
	}
	return cloneMailer(m), nil
}

func (s *FileStore) ListQueries(ctx context.Context) ([]*models.QuerySpecification, error) {
	s.mu.RLock()
	out := make([]*models.QuerySpecification, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, CloneQuery(q))
	}
	s.mu.RUnlock()
	sortQueries(out)
	return out, nil
}

var _ Store = (*FileStore)(nil)
