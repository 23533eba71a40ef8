package requestspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func TestDecodeTabular_ArrayOfObjects(t *testing.T) {
	v, ok, err := DecodeTabular("orders", []byte(`[{"id":1,"name":"a"},{"id":2,"extra":true}]`))
	require.NoError(t, err)
	require.True(t, ok)

	table, isTable := v.(*models.Table)
	require.True(t, isTable)
	assert.Equal(t, "orders", table.Name)
	assert.Equal(t, []string{"id", "name", "extra"}, table.ColumnNames())
	assert.Equal(t, [][]any{{int64(1), "a", nil}, {int64(2), nil, true}}, table.Rows)
}

func TestDecodeTabular_ObjectOfTablesKeepsOrder(t *testing.T) {
	v, ok, err := DecodeTabular("ignored", []byte(`{"lines":[{"n":1}],"header":[{"id":9}],"empty":[]}`))
	require.NoError(t, err)
	require.True(t, ok)

	set, isSet := v.(*models.DataSet)
	require.True(t, isSet)
	require.Len(t, set.Tables, 3)
	assert.Equal(t, "lines", set.Tables[0].Name)
	assert.Equal(t, "header", set.Tables[1].Name)
	assert.Equal(t, "empty", set.Tables[2].Name)
	assert.Empty(t, set.Tables[2].Rows)
}

func TestDecodeTabular_OtherDocuments(t *testing.T) {
	for _, doc := range []string{`"done"`, `42`, `[1,2]`, `{"count":3}`, `{"rows":[1]}`, ``} {
		_, ok, err := DecodeTabular("t", []byte(doc))
		require.NoError(t, err, doc)
		assert.False(t, ok, doc)
	}
}
