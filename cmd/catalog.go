package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-query-gateway/migrations"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/catalog"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/crypto"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/database"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/repositories"
)

var (
	exportPath      string
	encryptDatabase string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and maintain the query catalog",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a catalog file",
	Long:  `Validate a catalog file: names, backends, parameter declarations and mailer references. Defaults to catalog.path from the config.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := catalogFileArg(args)
		if err != nil {
			return err
		}
		doc, err := readCatalogFile(path)
		if err != nil {
			return err
		}
		if err := catalog.Check(doc); err != nil {
			return fmt.Errorf("%s is invalid:\n%w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d databases, %d mailers, %d queries OK\n",
			path, len(doc.Databases), len(doc.Mailers), len(doc.Queries))
		return nil
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a catalog file into the PostgreSQL catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := readCatalogFile(args[0])
		if err != nil {
			return err
		}
		if err := catalog.Check(doc); err != nil {
			return fmt.Errorf("%s is invalid:\n%w", args[0], err)
		}

		ctx := cmd.Context()
		db, err := openCatalogDB(ctx, cfg, zap.NewNop(), true)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := catalog.Import(ctx, repositories.NewCatalogRepository(db), doc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d databases, %d mailers, %d queries\n",
			len(doc.Databases), len(doc.Mailers), len(doc.Queries))
		return nil
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the configured catalog as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, closeStore, err := openCatalog(ctx, cfg, zap.NewNop(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		doc, err := catalog.Export(ctx, store)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode catalog: %w", err)
		}

		if exportPath == "" || exportPath == "-" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		return os.WriteFile(exportPath, out, 0o600)
	},
}

var catalogEncryptCmd = &cobra.Command{
	Use:   "encrypt [connection-string]",
	Short: "Encrypt a connection string with CREDENTIALS_KEY",
	Long: `Encrypt a connection string with CREDENTIALS_KEY for use with "encrypted: true".
The value only opens for the database named by --database. Reads stdin when no argument is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := os.Getenv("CREDENTIALS_KEY")
		if key == "" {
			return fmt.Errorf("CREDENTIALS_KEY is not set")
		}
		enc, err := crypto.NewCredentialEncryptor(key)
		if err != nil {
			return err
		}

		var plaintext string
		if len(args) == 1 {
			plaintext = args[0]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			plaintext = strings.TrimSpace(string(data))
		}
		if plaintext == "" {
			return fmt.Errorf("connection string is empty")
		}

		ciphertext, err := enc.Seal(encryptDatabase, plaintext)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
		return nil
	},
}

var catalogBackendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the database backends compiled into this binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, info := range datasource.RegisteredDrivers() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s (%s)\n", info.Backend, info.DisplayName, info.Description)
		}
		return nil
	},
}

func init() {
	catalogExportCmd.Flags().StringVarP(&exportPath, "output", "o", "-", "output file (- for stdout)")
	catalogEncryptCmd.Flags().StringVarP(&encryptDatabase, "database", "d", "", "catalog database name the value belongs to")
	_ = catalogEncryptCmd.MarkFlagRequired("database")
	catalogCmd.AddCommand(catalogCheckCmd, catalogImportCmd, catalogExportCmd, catalogEncryptCmd, catalogBackendsCmd)
	rootCmd.AddCommand(catalogCmd)
}

func catalogFileArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Catalog.Path, nil
}

func readCatalogFile(path string) (*catalog.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return catalog.Parse(data)
}

// openCatalog opens the configured catalog. For postgres, migrate applies pending
// migrations first.
func openCatalog(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (catalog.Store, func(), error) {
	if cfg.Catalog.Source == config.CatalogSourceFile {
		store, err := catalog.LoadFile(cfg.Catalog.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	db, err := openCatalogDB(ctx, cfg, logger, migrate)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewCatalogRepository(db), db.Close, nil
}

func openCatalogDB(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*database.DB, error) {
	url := cfg.Database.ConnectionString()

	if migrate {
		sqlDB, err := database.OpenSQL(url)
		if err != nil {
			return nil, err
		}
		err = database.RunMigrations(sqlDB, migrations.FS, logger)
		_ = sqlDB.Close()
		if err != nil {
			return nil, err
		}
	}

	return database.NewConnection(ctx, &database.Config{
		URL:            url,
		MaxConnections: cfg.Database.MaxConnections,
	})
}
