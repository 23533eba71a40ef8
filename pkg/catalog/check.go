package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/sql"
)

// Check validates a catalog document and returns every problem found, joined.
func Check(doc *Document) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	databases := make(map[string]*models.DatabaseSpecification)
	for i, db := range doc.Databases {
		if db == nil || db.Name == "" {
			add("databases[%d]: name is required", i)
			continue
		}
		name := strings.ToLower(db.Name)
		if databases[name] != nil {
			add("database %q is defined more than once", db.Name)
		}
		databases[name] = db
		if _, err := models.ParseBackend(string(db.Backend)); err != nil {
			add("database %q: %v", db.Name, err)
		}
		if db.ConnectionString == "" {
			add("database %q: connection_string is required", db.Name)
		}
		if db.Impersonate && db.Backend == models.BackendOracle {
			add("database %q: impersonation is only supported for mssql", db.Name)
		}
	}

	mailers := make(map[string]bool)
	for i, m := range doc.Mailers {
		if m == nil || m.Name == "" {
			add("mailers[%d]: name is required", i)
			continue
		}
		name := strings.ToLower(m.Name)
		if mailers[name] {
			add("mailer %q is defined more than once", m.Name)
		}
		mailers[name] = true
		if len(m.To) == 0 {
			add("mailer %q: at least one recipient is required", m.Name)
		}
	}

	keys := make(map[string]bool)
	for i, q := range doc.Queries {
		if q == nil || q.Key == "" {
			add("queries[%d]: key is required", i)
			continue
		}
		key := strings.ToLower(q.Key)
		if keys[key] {
			add("query %q is defined more than once", q.Key)
		}
		keys[key] = true

		if strings.TrimSpace(q.Query) == "" {
			add("query %q: query text is required", q.Key)
		}
		if q.Shape == models.ShapeUnknown {
			add("query %q: shape is required", q.Key)
		}
		db := databases[strings.ToLower(q.Database)]
		if db == nil {
			add("query %q: database %q is not defined", q.Key, q.Database)
		}
		if _, err := sql.ParseDeclarations(q.Parameters); err != nil {
			add("query %q: %v", q.Key, err)
		}
		if q.Cursors != "" && db != nil && db.Backend != models.BackendOracle {
			add("query %q: cursors are only supported for oracle", q.Key)
		}
		switch q.UDTMapping {
		case models.UDTMappingNone, models.UDTMappingJSON, models.UDTMappingXML:
		default:
			add("query %q: unknown udt_mapping %q", q.Key, q.UDTMapping)
		}
		if q.Cache.TTLSeconds < 0 {
			add("query %q: cache ttl_seconds must not be negative", q.Key)
		}
		if q.SendOutputViaEmail && !mailers[strings.ToLower(q.Mailer)] {
			add("query %q: mailer %q is not defined", q.Key, q.Mailer)
		}
		if p := q.Processor; p != nil && p.Name == "" && p.Path == "" && p.ClassName == "" {
			add("query %q: processor needs a name, path or class", q.Key)
		}
	}

	return errors.Join(errs...)
}
