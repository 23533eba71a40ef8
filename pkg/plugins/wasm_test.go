package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/formats"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// testdata/fixed.wasm answers process_input and process_output with constant documents;
// its source is testdata/fixed.wat.
func newFixedProcessor(t *testing.T) Processor {
	t.Helper()
	r := NewRegistry("testdata", zap.NewNop())
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	p, err := r.Resolve(context.Background(), &models.PluginReference{Name: "fixed", Path: "fixed.wasm"})
	require.NoError(t, err)
	return p
}

func TestWasmProcessor_ProcessInputReplacesFields(t *testing.T) {
	p := newFixedProcessor(t)
	q := &models.QuerySpecification{Key: "orders"}
	specs := []models.RequestSpecification{{Name: "id", Value: int64(1), Type: models.TypeInt64}}

	res, err := p.ProcessInput(context.Background(), "orders", specs, q)
	require.NoError(t, err)
	assert.False(t, res.Escape)
	require.Len(t, res.Specs, 2)
	assert.Equal(t, "id", res.Specs[0].Name)
	assert.Equal(t, int64(7), res.Specs[0].Value)
	assert.Equal(t, "region", res.Specs[1].Name)
	assert.Equal(t, "EU", res.Specs[1].Value)
}

func TestWasmProcessor_ProcessOutputReturnsTable(t *testing.T) {
	p := newFixedProcessor(t)
	q := &models.QuerySpecification{Key: "orders"}
	raw := models.NewTable("Orders", "id")
	raw.AddRow(int64(99))

	out, err := p.ProcessOutput(context.Background(), "orders", raw, nil, q)
	require.NoError(t, err)

	table, ok := out.(*models.Table)
	require.True(t, ok, "expected *models.Table, got %T", out)
	assert.Equal(t, "Orders", table.Name)
	assert.Equal(t, []string{"id", "total"}, table.ColumnNames())
	assert.Equal(t, [][]any{{int64(1), "9.50"}, {int64(2), "3.25"}}, table.Rows)

	// the replaced result still renders to tabular formats
	doc, err := formats.Render(models.OutputCSV, q.Key, table)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "\"9.50\"")
}
