package mssql

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

var (
	nullStringType  = reflect.TypeOf(sql.NullString{})
	nullInt64Type   = reflect.TypeOf(sql.NullInt64{})
	nullFloat64Type = reflect.TypeOf(sql.NullFloat64{})
	nullBoolType    = reflect.TypeOf(sql.NullBool{})
	nullTimeType    = reflect.TypeOf(sql.NullTime{})
)

// buildTVP converts a table into a table-valued parameter of the named user-defined table type.
// Columns map by position; each column's Go type is chosen from its non-nil values, falling
// back to nvarchar when they disagree.
func buildTVP(typeName string, table *models.Table) (mssql.TVP, error) {
	if len(table.Columns) == 0 {
		return mssql.TVP{}, fmt.Errorf("table-valued parameter %s has no columns", typeName)
	}

	fields := make([]reflect.StructField, len(table.Columns))
	for i := range table.Columns {
		fields[i] = reflect.StructField{
			Name: "Col" + strconv.Itoa(i),
			Type: columnType(table, i),
		}
	}
	rowType := reflect.StructOf(fields)

	rows := reflect.MakeSlice(reflect.SliceOf(rowType), 0, len(table.Rows))
	for r, row := range table.Rows {
		elem := reflect.New(rowType).Elem()
		for i := range table.Columns {
			var v any
			if i < len(row) {
				v = row[i]
			}
			if err := setNullable(elem.Field(i), v); err != nil {
				return mssql.TVP{}, fmt.Errorf("row %d column %q: %w", r, table.Columns[i].Name, err)
			}
		}
		rows = reflect.Append(rows, elem)
	}

	return mssql.TVP{TypeName: typeName, Value: rows.Interface()}, nil
}

func columnType(table *models.Table, col int) reflect.Type {
	var chosen reflect.Type
	for _, row := range table.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		var t reflect.Type
		switch row[col].(type) {
		case int, int32, int64:
			t = nullInt64Type
		case float64, decimal.Decimal:
			t = nullFloat64Type
		case bool:
			t = nullBoolType
		case time.Time:
			t = nullTimeType
		default:
			return nullStringType
		}
		if chosen != nil && chosen != t {
			return nullStringType
		}
		chosen = t
	}
	if chosen == nil {
		return nullStringType
	}
	return chosen
}

func setNullable(field reflect.Value, v any) error {
	if v == nil {
		return nil // zero value is NULL
	}
	switch field.Type() {
	case nullInt64Type:
		var n int64
		switch x := v.(type) {
		case int:
			n = int64(x)
		case int32:
			n = int64(x)
		case int64:
			n = x
		}
		field.Set(reflect.ValueOf(sql.NullInt64{Int64: n, Valid: true}))
	case nullFloat64Type:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case decimal.Decimal:
			f = x.InexactFloat64()
		}
		field.Set(reflect.ValueOf(sql.NullFloat64{Float64: f, Valid: true}))
	case nullBoolType:
		field.Set(reflect.ValueOf(sql.NullBool{Bool: v.(bool), Valid: true}))
	case nullTimeType:
		field.Set(reflect.ValueOf(sql.NullTime{Time: v.(time.Time), Valid: true}))
	default:
		field.Set(reflect.ValueOf(sql.NullString{String: stringify(v), Valid: true}))
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
