package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource/oracle"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/audit"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/catalog"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/crypto"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/handlers"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/mailer"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/mcp"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/middleware"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/plugins"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server. Queries are served under /api/queries/{key}, optionally with
/as/{json|csv|excel|pdf}. SIGHUP reloads a file catalog; SIGINT or SIGTERM shut down gracefully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("catalog_source", cfg.Catalog.Source),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Bool("cache_legacy_expiry", cfg.Cache.LegacyExpiry),
		zap.Bool("reject_injection", cfg.Security.RejectInjection),
		zap.Bool("mail_enabled", cfg.Mail.Enabled()),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled))

	store, closeStore, err := openCatalog(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer closeStore()

	var encryptor *crypto.CredentialEncryptor
	if cfg.CredentialsKey != "" {
		if encryptor, err = crypto.NewCredentialEncryptor(cfg.CredentialsKey); err != nil {
			return fmt.Errorf("invalid CREDENTIALS_KEY: %w", err)
		}
	}

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:            cfg.Datasource.ConnectionTTLMinutes,
		MaxConnectionsPerUser: cfg.Datasource.MaxConnectionsPerUser,
		PoolMaxConns:          cfg.Datasource.PoolMaxConns,
		PoolMinConns:          cfg.Datasource.PoolMinConns,
	}, logger)
	defer func() {
		if err := connMgr.Close(); err != nil {
			logger.Error("Failed to close connection manager", zap.Error(err))
		}
	}()

	registry := plugins.NewRegistry(cfg.Plugins.Dir, logger)
	plugins.RegisterBuiltins(registry)
	logger.Info("Registered processors", zap.Strings("names", registry.Names()))
	defer func() {
		if err := registry.Close(context.Background()); err != nil {
			logger.Error("Failed to close plugins", zap.Error(err))
		}
	}()

	var mail mailer.Mailer
	if cfg.Mail.Enabled() {
		mailCfg := cfg.Mail
		mailCfg.Host = config.ResolveHostForDocker(mailCfg.Host)
		smtp, err := mailer.NewSMTPMailer(mailCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to configure SMTP: %w", err)
		}
		mail = smtp
	}
	pipeline := services.NewPipeline(services.PipelineConfig{
		Processors: registry,
		Mailers:    store,
		Mailer:     mail,
	}, logger)

	policy := services.FreshnessElapsed
	if cfg.Cache.LegacyExpiry {
		policy = services.FreshnessLegacy
	}

	engine := services.NewQueryEngine(services.EngineConfig{
		Store:           store,
		Drivers:         datasource.NewDriverFactory(connMgr, logger, datasource.WithConnectionRewriter(config.ResolveURLForDocker)),
		Encryptor:       encryptor,
		Cache:           services.NewResultCache(services.CacheOptions{Policy: policy, MaxEntries: cfg.Cache.MaxEntries}),
		Pipeline:        pipeline,
		Identity:        auth.IdentityFromContext,
		RejectInjection: cfg.Security.RejectInjection,
		Auditor:         audit.NewSecurityAuditor(logger),
		AuditExecutions: cfg.Security.AuditExecutions,
	}, logger)

	jwks, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}
	defer jwks.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwks, logger), !cfg.Auth.EnableVerification, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, connMgr, engine, logger).RegisterRoutes(mux)
	handlers.NewQueriesHandler(engine, logger).RegisterRoutes(mux, authMiddleware)

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-query-gateway", cfg.Version, engine, logger)
		mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(authMiddleware.Handler(mcpServer.Handler())))
	}

	if fileStore, ok := store.(*catalog.FileStore); ok {
		go reloadOnHangup(ctx, fileStore, engine, logger)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-query-gateway",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if cfg.TLSCertPath != "" {
			serveErr <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}

	// Let queued mail finish before pools close.
	pipeline.Wait()
	return nil
}

// reloadOnHangup re-reads the catalog file on SIGHUP and drops cached results that
// may have been produced by the previous definitions.
func reloadOnHangup(ctx context.Context, store *catalog.FileStore, engine services.QueryEngine, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := store.Reload(); err != nil {
				logger.Error("Catalog reload failed; keeping previous catalog", zap.Error(err))
				continue
			}
			logger.Info("Catalog reloaded", zap.Int("cache_entries_dropped", engine.ClearCache()))
		}
	}
}
