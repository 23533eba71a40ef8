package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry("", zap.NewNop())
	RegisterBuiltins(r)

	assert.ElementsMatch(t, []string{TrimStrings, DropNullColumns}, r.Names())
	for _, name := range []string{"trim_strings", "DROP_NULL_COLUMNS"} {
		p, err := r.Resolve(context.Background(), &models.PluginReference{Name: name})
		require.NoError(t, err, name)
		assert.NotNil(t, p)
	}
}

func TestTrimStrings(t *testing.T) {
	specs := []models.RequestSpecification{
		{Name: "region", Value: "  EU \t", Type: models.TypeString},
		{Name: "codes", Value: []any{" a", int64(2), "b "}, Class: models.ClassArray},
		{Name: "id", Value: int64(5), Type: models.TypeInt64},
	}

	res, err := trimStrings(context.Background(), "orders", specs, nil)
	require.NoError(t, err)
	assert.Equal(t, "EU", res.Specs[0].Value)
	assert.Equal(t, []any{"a", int64(2), "b"}, res.Specs[1].Value)
	assert.Equal(t, int64(5), res.Specs[2].Value)
	assert.Equal(t, "  EU \t", specs[0].Value, "input fields are left untouched")
}

func TestDropNullColumns(t *testing.T) {
	table := models.NewTable("orders", "id", "note", "total")
	table.AddRow(int64(1), nil, "9.50")
	table.AddRow(int64(2), nil, nil)

	out, err := dropNullColumns(context.Background(), "orders", table, nil, nil)
	require.NoError(t, err)

	got := out.(*models.Table)
	assert.Equal(t, []string{"id", "total"}, got.ColumnNames())
	assert.Equal(t, [][]any{{int64(1), "9.50"}, {int64(2), nil}}, got.Rows)
	assert.Len(t, table.Columns, 3, "the input table is not modified")

	empty := models.NewTable("none", "a")
	set := &models.DataSet{Tables: []*models.Table{table, empty}}
	out, err = dropNullColumns(context.Background(), "orders", set, nil, nil)
	require.NoError(t, err)
	gotSet := out.(*models.DataSet)
	assert.Equal(t, []string{"id", "total"}, gotSet.Tables[0].ColumnNames())
	assert.Same(t, empty, gotSet.Tables[1])

	out, err = dropNullColumns(context.Background(), "orders", "scalar", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "scalar", out)
}
