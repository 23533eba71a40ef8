// Package services implements the query execution engine: it resolves a logical query key,
// binds request fields, dispatches to a backend and renders the result.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/audit"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/catalog"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/crypto"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/requestspec"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/sql"
)

// ExecuteResult is a rendered query result.
type ExecuteResult struct {
	ContentType string
	FileName    string
	Body        []byte
	// Cached is set when the result was served from the result cache.
	Cached bool
}

// QueryEngine executes configured queries.
type QueryEngine interface {
	// Execute runs the query for key with the request fields and renders it as output.
	// ShapeUnknown selects the query's configured shape; any other shape must match it.
	Execute(ctx context.Context, key string, specs []models.RequestSpecification, shape models.ExecutionShape, output models.OutputShape) (*ExecuteResult, error)

	// ListQueries returns the configured queries.
	ListQueries(ctx context.Context) ([]*models.QuerySpecification, error)

	// InvalidateQuery drops cached results of one query and returns how many were dropped.
	InvalidateQuery(key string) int

	// ClearCache drops every cached result.
	ClearCache() int

	// CacheStats reports result cache counters.
	CacheStats() CacheStats
}

// IdentityFunc returns the caller a database connection is opened for.
type IdentityFunc func(ctx context.Context) datasource.Identity

// EngineConfig holds the engine's collaborators and settings.
type EngineConfig struct {
	Store      catalog.Store
	Drivers    datasource.DriverFactory
	Encryptor  *crypto.CredentialEncryptor // nil when no connection string is encrypted
	Dispatcher *Dispatcher
	Cache      *ResultCache
	Pipeline   *Pipeline
	Identity   IdentityFunc
	// RejectInjection fails requests whose inlined literals look like SQL injection.
	RejectInjection bool
	// Auditor receives security events. Defaults to one on the engine logger.
	Auditor *audit.SecurityAuditor
	// AuditExecutions also records every successful execution.
	AuditExecutions bool
}

type queryEngine struct {
	cfg    EngineConfig
	logger *zap.Logger
}

// NewQueryEngine creates an engine. Nil dispatcher, cache, pipeline and auditor get defaults.
func NewQueryEngine(cfg EngineConfig, logger *zap.Logger) QueryEngine {
	if cfg.Auditor == nil {
		cfg.Auditor = audit.NewSecurityAuditor(logger)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher()
	}
	if cfg.Cache == nil {
		cfg.Cache = NewResultCache(CacheOptions{})
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = NewPipeline(PipelineConfig{}, logger)
	}
	if cfg.Identity == nil {
		cfg.Identity = func(context.Context) datasource.Identity { return datasource.Identity{} }
	}
	return &queryEngine{cfg: cfg, logger: logger}
}

func (e *queryEngine) Execute(ctx context.Context, key string, specs []models.RequestSpecification, shape models.ExecutionShape, output models.OutputShape) (*ExecuteResult, error) {
	start := time.Now()

	q, err := e.cfg.Store.GetQuery(ctx, key)
	if err != nil {
		return nil, err
	}
	if shape == models.ShapeUnknown {
		shape = q.Shape
	} else if shape != q.Shape {
		return nil, apperrors.Validation("query %q is configured as %s, not %s", q.Key, q.Shape, shape)
	}

	db, err := e.cfg.Store.GetDatabase(ctx, q.Database)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", q.Key, err)
	}

	if err := requestspec.Validate(specs, shape, output); err != nil {
		return nil, e.auditValidation(ctx, q.Key, err)
	}
	route, err := e.cfg.Dispatcher.Resolve(shape, db.Backend, output)
	if err != nil {
		return nil, err
	}

	pre, err := e.cfg.Pipeline.PreProcess(ctx, q, specs)
	if err != nil {
		return nil, err
	}
	if pre.Escaped {
		return e.finish(ctx, q, output, pre.Output, false)
	}
	specs = pre.Specs

	params, err := sql.ResolveParameters(specs, q, db.Backend)
	if err != nil {
		return nil, e.auditValidation(ctx, q.Key, err)
	}
	stmt, err := sql.Materialize(q, params, db.Backend, sql.MaterializeOptions{
		RejectInjection: e.cfg.RejectInjection,
		Logger:          e.logger,
		OnInjection: func(hit sql.InjectionCheckResult, rejected bool) {
			e.cfg.Auditor.LogInjectionAttempt(ctx, q.Key, audit.SQLInjectionDetails{
				ParamName:   hit.ParamName,
				ValueLength: len(hit.ParamValue),
				Fingerprint: hit.Fingerprint,
				Rejected:    rejected,
			})
		},
	})
	if err != nil {
		return nil, err
	}

	raw, cached, err := e.run(ctx, q, db, route, stmt)
	if err != nil {
		return nil, err
	}

	out, err := e.cfg.Pipeline.PostProcess(ctx, q, raw, specs)
	if err != nil {
		return nil, err
	}

	res, err := e.finish(ctx, q, output, out, cached)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Executed query",
		zap.String("query_key", q.Key),
		zap.String("route", route.Name),
		zap.Bool("cached", cached),
		zap.Int("bytes", len(res.Body)),
		zap.Duration("duration", time.Since(start)))
	if e.cfg.AuditExecutions {
		e.cfg.Auditor.LogQueryExecution(ctx, q.Key, route.Name, cached)
	}
	return res, nil
}

// auditValidation records rejected request fields and returns err unchanged.
func (e *queryEngine) auditValidation(ctx context.Context, key string, err error) error {
	if apperrors.IsKind(err, apperrors.KindValidation) {
		e.cfg.Auditor.LogParameterValidation(ctx, key, err.Error())
	}
	return err
}

// run executes the statement, consulting the result cache for cacheable queries.
func (e *queryEngine) run(ctx context.Context, q *models.QuerySpecification, db *models.DatabaseSpecification, route Route, stmt models.Statement) (any, bool, error) {
	identity := e.cfg.Identity(ctx)
	userID := ""
	if db.Impersonate {
		// rows depend on who is asking, so the caller is part of the cache key
		if identity.UserID == "" || identity.AccessToken == "" {
			return nil, false, fmt.Errorf("database %q connects as the caller: %w", db.Name, apperrors.ErrAccessTokenRequired)
		}
		userID = identity.UserID
	}

	cacheKey, keyed := StatementCacheKey(stmt, route.Shape, userID)
	cacheable := route.Tabular() && q.CacheApplicable() && keyed
	ttl := time.Duration(q.Cache.TTLSeconds) * time.Second

	if cacheable {
		if payload, ok := e.cfg.Cache.Get(cacheKey, ttl); ok {
			e.logger.Debug("Result cache hit", zap.String("query_key", q.Key))
			return payload, true, nil
		}
	}

	connString, err := crypto.ConnectionString(e.cfg.Encryptor, db)
	if err != nil {
		return nil, false, err
	}
	driver, err := e.cfg.Drivers.NewDriver(ctx, db, connString, identity)
	if err != nil {
		return nil, false, backendError(fmt.Sprintf("failed to connect to database %q", db.Name), err)
	}
	defer driver.Close()

	e.logger.Debug("Running statement",
		zap.String("query_key", q.Key),
		zap.String("route", route.Name),
		zap.String("statement", logging.SanitizeQuery(stmt.Text)),
		zap.Int("bound_parameters", len(stmt.Parameters)))

	raw, err := route.Run(ctx, driver, stmt)
	if err != nil {
		e.logger.Error("Query failed",
			zap.String("query_key", q.Key),
			zap.String("route", route.Name),
			zap.String("error", logging.SanitizeError(err)))
		return nil, false, backendError(fmt.Sprintf("query %q failed", q.Key), err)
	}

	if cacheable {
		e.cfg.Cache.Put(cacheKey, raw, q)
	}
	return raw, false, nil
}

func (e *queryEngine) finish(ctx context.Context, q *models.QuerySpecification, output models.OutputShape, payload any, cached bool) (*ExecuteResult, error) {
	doc, err := e.cfg.Pipeline.Render(q, output, payload)
	if err != nil {
		return nil, err
	}
	e.cfg.Pipeline.Mail(ctx, q, doc)
	return &ExecuteResult{
		ContentType: doc.ContentType,
		FileName:    doc.FileName,
		Body:        doc.Body,
		Cached:      cached,
	}, nil
}

// backendError tags driver failures that carry no kind yet.
func backendError(msg string, err error) error {
	if apperrors.KindOf(err) != "" || errors.Is(err, apperrors.ErrUnsupportedBackend) || errors.Is(err, apperrors.ErrAccessTokenRequired) {
		return err
	}
	return apperrors.Wrap(apperrors.KindBackend, msg, err)
}

func (e *queryEngine) ListQueries(ctx context.Context) ([]*models.QuerySpecification, error) {
	return e.cfg.Store.ListQueries(ctx)
}

func (e *queryEngine) InvalidateQuery(key string) int {
	n := e.cfg.Cache.InvalidateQuery(key)
	e.logger.Info("Invalidated cached results", zap.String("query_key", key), zap.Int("entries", n))
	return n
}

func (e *queryEngine) ClearCache() int {
	n := e.cfg.Cache.Clear()
	e.logger.Info("Cleared result cache", zap.Int("entries", n))
	return n
}

func (e *queryEngine) CacheStats() CacheStats {
	return e.cfg.Cache.Stats()
}
