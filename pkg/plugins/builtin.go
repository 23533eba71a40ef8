package plugins

import (
	"context"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Names of the processors compiled into the binary.
const (
	TrimStrings     = "trim_strings"
	DropNullColumns = "drop_null_columns"
)

// RegisterBuiltins registers the compiled-in processors on r.
func RegisterBuiltins(r *Registry) {
	r.Register(TrimStrings, Funcs{Input: trimStrings})
	r.Register(DropNullColumns, Funcs{Output: dropNullColumns})
}

// trimStrings strips surrounding whitespace from string fields and string array elements.
func trimStrings(_ context.Context, _ string, specs []models.RequestSpecification, _ *models.QuerySpecification) (InputResult, error) {
	out := make([]models.RequestSpecification, len(specs))
	for i, s := range specs {
		switch v := s.Value.(type) {
		case string:
			s.Value = strings.TrimSpace(v)
		case []any:
			elems := make([]any, len(v))
			for j, e := range v {
				if str, ok := e.(string); ok {
					e = strings.TrimSpace(str)
				}
				elems[j] = e
			}
			s.Value = elems
		}
		out[i] = s
	}
	return InputResult{Specs: out}, nil
}

// dropNullColumns removes columns that are null in every row. Tables without rows are kept
// as they are.
func dropNullColumns(_ context.Context, _ string, raw any, _ []models.RequestSpecification, _ *models.QuerySpecification) (any, error) {
	switch v := raw.(type) {
	case *models.Table:
		return withoutNullColumns(v), nil
	case *models.DataSet:
		set := &models.DataSet{Tables: make([]*models.Table, len(v.Tables))}
		for i, t := range v.Tables {
			set.Tables[i] = withoutNullColumns(t)
		}
		return set, nil
	}
	return raw, nil
}

func withoutNullColumns(t *models.Table) *models.Table {
	if t == nil || len(t.Rows) == 0 {
		return t
	}

	var keep []int
	for j := range t.Columns {
		for _, row := range t.Rows {
			if j < len(row) && row[j] != nil {
				keep = append(keep, j)
				break
			}
		}
	}
	if len(keep) == len(t.Columns) {
		return t
	}

	out := &models.Table{Name: t.Name, Columns: make([]models.Column, len(keep)), Rows: make([][]any, len(t.Rows))}
	for i, j := range keep {
		out.Columns[i] = t.Columns[j]
	}
	for r, row := range t.Rows {
		vals := make([]any, len(keep))
		for i, j := range keep {
			if j < len(row) {
				vals[i] = row[j]
			}
		}
		out.Rows[r] = vals
	}
	return out
}
