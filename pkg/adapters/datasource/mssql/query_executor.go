package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Driver runs statements on SQL Server. Procedures are invoked by bare name with named
// arguments, which go-mssqldb sends as an RPC call.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDriver wraps a pooled *sql.DB.
func NewDriver(db *sql.DB, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{db: db, logger: logger}
}

func (d *Driver) Backend() models.Backend { return models.BackendMSSQL }

// Close is a no-op; the pool is owned by the connection manager.
func (d *Driver) Close() error { return nil }

// TestConnection verifies the database is reachable with valid credentials.
func (d *Driver) TestConnection(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

func (d *Driver) ExecuteScalar(ctx context.Context, stmt models.Statement) (any, error) {
	rows, err := d.query(ctx, d.db, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return datasource.FirstValue(rows, normalizeValue)
}

func (d *Driver) ExecuteNonQuery(ctx context.Context, stmt models.Statement) (int64, error) {
	args, err := bindArgs(stmt.Parameters)
	if err != nil {
		return 0, err
	}
	return datasource.ExecInTx(ctx, d.db, func(tx *sql.Tx) (int64, error) {
		d.logStatement(stmt, len(args))
		res, err := tx.ExecContext(ctx, stmt.Text, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to execute statement: %w", err)
		}
		return res.RowsAffected()
	})
}

func (d *Driver) FillTable(ctx context.Context, stmt models.Statement) (*models.Table, error) {
	rows, err := d.query(ctx, d.db, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return datasource.ReadTable(rows, datasource.TableName(0), normalizeValue)
}

func (d *Driver) FillSet(ctx context.Context, stmt models.Statement) (*models.DataSet, error) {
	rows, err := d.query(ctx, d.db, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := &models.DataSet{}
	for i := 0; ; i++ {
		table, err := datasource.ReadTable(rows, datasource.TableName(i), normalizeValue)
		if err != nil {
			return nil, err
		}
		set.Tables = append(set.Tables, table)
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading result sets: %w", err)
	}
	return set, nil
}

func (d *Driver) query(ctx context.Context, ex datasource.Execer, stmt models.Statement) (*sql.Rows, error) {
	args, err := bindArgs(stmt.Parameters)
	if err != nil {
		return nil, err
	}
	d.logStatement(stmt, len(args))
	rows, err := ex.QueryContext(ctx, stmt.Text, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

func (d *Driver) logStatement(stmt models.Statement, args int) {
	d.logger.Debug("Executing statement",
		zap.String("sql", logging.SanitizeQuery(stmt.Text)),
		zap.Bool("procedure", stmt.Procedure),
		zap.Int("args", args))
}

// bindArgs converts the bind list into named arguments. Structured parameters become TVPs and
// need a UDT tag; ref cursors have no SQL Server meaning and are skipped.
func bindArgs(params []models.DatabaseParameter) ([]any, error) {
	args := make([]any, 0, len(params))
	for _, p := range params {
		switch p.Kind {
		case models.KindRefCursor:
			continue
		case models.KindStructured:
			table, ok := p.Value.(*models.Table)
			if !ok {
				return nil, apperrors.Configuration("structured parameter %q does not carry a table", p.Name)
			}
			if p.Tag == "" {
				return nil, apperrors.Configuration("structured parameter %q has no table type declared", p.Name)
			}
			tvp, err := buildTVP(p.Tag, table)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.KindConfiguration, fmt.Sprintf("structured parameter %q", p.Name), err)
			}
			args = append(args, sql.Named(p.Name, tvp))
		default:
			args = append(args, sql.Named(p.Name, p.Value))
		}
	}
	return args, nil
}

var (
	_ datasource.Driver           = (*Driver)(nil)
	_ datasource.ConnectionTester = (*Driver)(nil)
)
