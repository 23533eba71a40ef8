package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	go_ora "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Driver runs statements on Oracle. Procedures are wrapped in an anonymous PL/SQL block with
// named notation and return their result sets through SYS_REFCURSOR output parameters.
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

func (d *Driver) Backend() models.Backend { return models.BackendOracle }

// Close is a no-op; the pool is owned by the connection manager.
func (d *Driver) Close() error { return nil }

// TestConnection verifies the database is reachable with valid credentials.
func (d *Driver) TestConnection(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result int
	if err := d.db.QueryRowContext(ctx, "SELECT 1 FROM DUAL").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

func (d *Driver) ExecuteScalar(ctx context.Context, stmt models.Statement) (any, error) {
	tables, err := d.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 || len(tables[0].Rows) == 0 || len(tables[0].Rows[0]) == 0 {
		return nil, nil
	}
	return tables[0].Rows[0][0], nil
}

func (d *Driver) ExecuteNonQuery(ctx context.Context, stmt models.Statement) (int64, error) {
	b, err := bindArgs(stmt.Parameters)
	if err != nil {
		return 0, err
	}
	text := commandText(stmt)
	return datasource.ExecInTx(ctx, d.db, func(tx *sql.Tx) (int64, error) {
		d.logStatement(text, stmt.Procedure, len(b.args))
		res, err := tx.ExecContext(ctx, text, b.args...)
		if err != nil {
			return 0, fmt.Errorf("failed to execute statement: %w", err)
		}
		return res.RowsAffected()
	})
}

func (d *Driver) FillTable(ctx context.Context, stmt models.Statement) (*models.Table, error) {
	tables, err := d.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return &models.Table{Name: datasource.TableName(0), Rows: [][]any{}}, nil
	}
	return tables[0], nil
}

func (d *Driver) FillSet(ctx context.Context, stmt models.Statement) (*models.DataSet, error) {
	tables, err := d.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return &models.DataSet{Tables: tables}, nil
}

// run executes the statement and reads every result. Statements without ref cursors are
// queried directly; otherwise each cursor is wrapped into rows and read in bind order.
func (d *Driver) run(ctx context.Context, stmt models.Statement) ([]*models.Table, error) {
	b, err := bindArgs(stmt.Parameters)
	if err != nil {
		return nil, err
	}
	text := commandText(stmt)
	d.logStatement(text, stmt.Procedure, len(b.args))

	if len(b.cursors) == 0 && !stmt.Procedure {
		rows, err := d.db.QueryContext(ctx, text, b.args...)
		if err != nil {
			return nil, fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()
		table, err := datasource.ReadTable(rows, datasource.TableName(0), normalizeValue)
		if err != nil {
			return nil, err
		}
		return []*models.Table{table}, nil
	}

	if _, err := d.db.ExecContext(ctx, text, b.args...); err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}

	tables := make([]*models.Table, 0, len(b.cursors))
	for _, c := range b.cursors {
		table, err := d.readCursor(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("cursor %s: %w", c.name, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (d *Driver) readCursor(ctx context.Context, c cursorOut) (*models.Table, error) {
	rows, err := go_ora.WrapRefCursor(ctx, d.db, c.cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return datasource.ReadTable(rows, c.name, normalizeValue)
}

func (d *Driver) logStatement(text string, procedure bool, args int) {
	d.logger.Debug("Executing statement",
		zap.String("sql", logging.SanitizeQuery(text)),
		zap.Bool("procedure", procedure),
		zap.Int("args", args))
}

// commandText returns literal SQL as is and turns a procedure name into a PL/SQL block:
//
//	BEGIN pkg.proc(p_id => :p_id, p_out => :p_out); END;
func commandText(stmt models.Statement) string {
	if !stmt.Procedure {
		return stmt.Text
	}
	args := make([]string, len(stmt.Parameters))
	for i, p := range stmt.Parameters {
		args[i] = fmt.Sprintf("%s => :%s", p.Name, p.Name)
	}
	return fmt.Sprintf("BEGIN %s(%s); END;", strings.TrimSpace(stmt.Text), strings.Join(args, ", "))
}

type cursorOut struct {
	name   string
	cursor *go_ora.RefCursor
}

type binding struct {
	args    []any
	cursors []cursorOut
}

// bindArgs converts the bind list into named arguments. Ref cursors become output parameters;
// tagged structured values bind as PL/SQL collections and must have exactly one column.
func bindArgs(params []models.DatabaseParameter) (binding, error) {
	var b binding
	for _, p := range params {
		switch p.Kind {
		case models.KindRefCursor:
			c := cursorOut{name: p.Name, cursor: &go_ora.RefCursor{}}
			b.cursors = append(b.cursors, c)
			b.args = append(b.args, sql.Named(p.Name, sql.Out{Dest: c.cursor}))
		case models.KindStructured:
			table, ok := p.Value.(*models.Table)
			if !ok {
				return b, apperrors.Configuration("structured parameter %q does not carry a table", p.Name)
			}
			arr, err := collection(table)
			if err != nil {
				return b, apperrors.Wrap(apperrors.KindConfiguration, fmt.Sprintf("structured parameter %q (%s)", p.Name, p.Tag), err)
			}
			b.args = append(b.args, sql.Named(p.Name, arr))
		default:
			b.args = append(b.args, sql.Named(p.Name, bindValue(p.Value)))
		}
	}
	return b, nil
}

// collection converts a single-column table into a typed slice go-ora binds as a PL/SQL array.
func collection(table *models.Table) (any, error) {
	if len(table.Columns) != 1 {
		return nil, fmt.Errorf("oracle collections bind one column, table has %d; use udt_mapping json or xml instead", len(table.Columns))
	}

	kind := ""
	for _, row := range table.Rows {
		var k string
		switch row[0].(type) {
		case nil:
			continue
		case int64:
			k = "int"
		case float64, decimal.Decimal:
			k = "float"
		case time.Time:
			k = "time"
		default:
			k = "string"
		}
		if kind != "" && kind != k {
			kind = "string"
			break
		}
		kind = k
	}

	switch kind {
	case "int":
		out := make([]int64, len(table.Rows))
		for i, row := range table.Rows {
			out[i], _ = row[0].(int64)
		}
		return out, nil
	case "float":
		out := make([]float64, len(table.Rows))
		for i, row := range table.Rows {
			switch x := row[0].(type) {
			case float64:
				out[i] = x
			case decimal.Decimal:
				out[i] = x.InexactFloat64()
			}
		}
		return out, nil
	case "time":
		out := make([]time.Time, len(table.Rows))
		for i, row := range table.Rows {
			out[i], _ = row[0].(time.Time)
		}
		return out, nil
	}

	out := make([]string, len(table.Rows))
	for i, row := range table.Rows {
		if row[0] != nil {
			out[i] = fmt.Sprint(bindValue(row[0]))
		}
	}
	return out, nil
}

// bindValue adapts values go-ora cannot bind directly. Oracle SQL has no boolean type.
func bindValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case decimal.Decimal:
		return x.String()
	}
	return v
}

// normalizeValue converts scanned Oracle values into JSON-friendly Go values.
func normalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case string:
		if dbType == "NUMBER" {
			if d, err := decimal.NewFromString(x); err == nil {
				return d
			}
		}
		return x
	case []byte:
		if strings.Contains(dbType, "CHAR") || strings.Contains(dbType, "CLOB") {
			return string(x)
		}
	}
	return v
}

var (
	_ datasource.Driver           = (*Driver)(nil)
	_ datasource.ConnectionTester = (*Driver)(nil)
)
