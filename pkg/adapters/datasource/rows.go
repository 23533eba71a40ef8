package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// ValueNormalizer converts a scanned driver value for a column into the value stored in a Table.
type ValueNormalizer func(v any, databaseType string) any

// ReadTable drains the current result set of rows into a table.
// It does not advance to the next result set or close rows.
func ReadTable(rows *sql.Rows, name string, normalize ValueNormalizer) (*models.Table, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	table := &models.Table{
		Name:    name,
		Columns: make([]models.Column, len(columnNames)),
		Rows:    [][]any{},
	}
	dbTypes := make([]string, len(columnNames))
	for i, col := range columnNames {
		dbTypes[i] = strings.ToUpper(columnTypes[i].DatabaseTypeName())
		table.Columns[i] = models.Column{Name: col, Type: dbTypes[i]}
	}

	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if normalize != nil {
			for i, v := range values {
				if v != nil {
					values[i] = normalize(v, dbTypes[i])
				}
			}
		}
		table.Rows = append(table.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table, nil
}

// TableName returns the default name of the i-th table in a result: Table, Table1, Table2...
func TableName(i int) string {
	if i == 0 {
		return "Table"
	}
	return fmt.Sprintf("Table%d", i)
}

// Execer is the subset of *sql.DB and *sql.Tx used to run statements.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ExecInTx runs fn inside a transaction that is committed on success and rolled back otherwise.
func ExecInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	affected, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return affected, nil
}

// FirstValue returns the first column of the first row of rows, or nil when there are none.
func FirstValue(rows *sql.Rows, normalize ValueNormalizer) (any, error) {
	table, err := ReadTable(rows, "", normalize)
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 || len(table.Rows[0]) == 0 {
		return nil, nil
	}
	return table.Rows[0][0], nil
}
