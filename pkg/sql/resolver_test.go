package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func bodyField(name string, typ models.ValueType, v any) models.RequestSpecification {
	return models.RequestSpecification{Name: name, Value: v, Type: typ, Origin: models.OriginBody, Class: models.ClassScalar}
}

func queryField(name, v string) models.RequestSpecification {
	return models.RequestSpecification{Name: name, Value: v, Type: models.TypeString, Origin: models.OriginQuery, Class: models.ClassScalar}
}

func tableField(name string) models.RequestSpecification {
	table := models.NewTable(name, "id", "name")
	table.AddRow(int64(1), "a")
	table.AddRow(int64(2), "b&c")
	return models.RequestSpecification{Name: name, Value: table, Type: models.TypeTable, Origin: models.OriginBody, Class: models.ClassTable}
}

func TestResolveParameters_MSSQL(t *testing.T) {
	q := &models.QuerySpecification{
		Key:        "orders.save",
		Shape:      models.ShapeNonQueryProcedure,
		Parameters: "ID$BigInt,items$Structured$dbo.ItemList",
	}
	specs := []models.RequestSpecification{
		bodyField("id", models.TypeString, "12"),
		tableField("Items"),
		bodyField("extra", models.TypeBool, true),
	}

	params, err := ResolveParameters(specs, q, models.BackendMSSQL)
	require.NoError(t, err)
	require.Len(t, params, 3)

	assert.Equal(t, "ID", params[0].Name)
	assert.Equal(t, models.KindBigInt, params[0].Kind)

	assert.Equal(t, "items", params[1].Name)
	assert.Equal(t, models.KindStructured, params[1].Kind)
	assert.Equal(t, "dbo.ItemList", params[1].Tag)

	// undeclared fields are still bound
	assert.Equal(t, "extra", params[2].Name)
	assert.Equal(t, models.KindBit, params[2].Kind)
}

func TestResolveParameters_LastMatchWins(t *testing.T) {
	q := &models.QuerySpecification{Key: "k", Shape: models.ShapeDataTableText, Parameters: "id"}
	specs := []models.RequestSpecification{
		bodyField("id", models.TypeInt64, int64(5)),
		bodyField("other", models.TypeInt64, int64(1)),
		queryField("ID", "9"),
	}

	params, err := ResolveParameters(specs, q, models.BackendMSSQL)
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, "9", params[0].Value)
	assert.Equal(t, models.KindNVarChar, params[0].Kind)
	assert.Equal(t, "other", params[1].Name)
}

func TestResolveParameters_OracleCursors(t *testing.T) {
	q := &models.QuerySpecification{
		Key:        "orders.list",
		Shape:      models.ShapeDataSetProcedure,
		Parameters: "p_customer$NVarChar",
		Cursors:    "p_orders,p_lines",
	}

	params, err := ResolveParameters([]models.RequestSpecification{bodyField("P_CUSTOMER", models.TypeString, "ACME")}, q, models.BackendOracle)
	require.NoError(t, err)
	require.Len(t, params, 3)

	assert.Equal(t, "p_customer", params[0].Name)
	assert.Equal(t, models.DatabaseParameter{Name: "p_orders", Kind: models.KindRefCursor, Output: true}, params[1])
	assert.Equal(t, models.DatabaseParameter{Name: "p_lines", Kind: models.KindRefCursor, Output: true}, params[2])
}

func TestResolveParameters_MSSQLIgnoresCursors(t *testing.T) {
	q := &models.QuerySpecification{Key: "k", Shape: models.ShapeDataTableProcedure, Cursors: "p_out"}

	params, err := ResolveParameters(nil, q, models.BackendMSSQL)
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestResolveParameters_OracleStructured(t *testing.T) {
	tests := []struct {
		name     string
		decl     string
		mapping  models.UDTMapping
		wantKind models.ParameterKind
		wantTag  string
		wantErr  bool
		check    func(t *testing.T, v any)
	}{
		{
			name:     "tagged keeps structured",
			decl:     "items$Structured$ITEM_TAB",
			wantKind: models.KindStructured,
			wantTag:  "ITEM_TAB",
		},
		{
			name:     "json mapping",
			decl:     "items",
			mapping:  models.UDTMappingJSON,
			wantKind: models.KindNVarChar,
			check: func(t *testing.T, v any) {
				assert.JSONEq(t, `[{"id":1,"name":"a"},{"id":2,"name":"b&c"}]`, v.(string))
			},
		},
		{
			name:     "xml mapping",
			decl:     "items",
			mapping:  models.UDTMappingXML,
			wantKind: models.KindNVarChar,
			check: func(t *testing.T, v any) {
				assert.Equal(t, "<ROWSET><ROW><ID>1</ID><NAME>a</NAME></ROW><ROW><ID>2</ID><NAME>b&amp;c</NAME></ROW></ROWSET>", v.(string))
			},
		},
		{
			name:    "no mapping is a configuration error",
			decl:    "items",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &models.QuerySpecification{Key: "k", Shape: models.ShapeNonQueryProcedure, Parameters: tt.decl, UDTMapping: tt.mapping}

			params, err := ResolveParameters([]models.RequestSpecification{tableField("items")}, q, models.BackendOracle)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
				return
			}
			require.NoError(t, err)
			require.Len(t, params, 1)
			assert.Equal(t, tt.wantKind, params[0].Kind)
			assert.Equal(t, tt.wantTag, params[0].Tag)
			if tt.check != nil {
				tt.check(t, params[0].Value)
			}
		})
	}
}

func TestResolveParameters_BinaryFile(t *testing.T) {
	q := &models.QuerySpecification{Key: "k", Shape: models.ShapeNonQueryProcedure}
	spec := models.RequestSpecification{Name: "doc", Value: []byte("%PDF"), Type: models.TypeBinary, Class: models.ClassFile, FileEncoding: models.FileEncodingBinary}

	params, err := ResolveParameters([]models.RequestSpecification{spec}, q, models.BackendMSSQL)
	require.NoError(t, err)
	assert.Equal(t, models.KindBinary, params[0].Kind)
}

func TestResolveParameters_UnsupportedBackend(t *testing.T) {
	_, err := ResolveParameters(nil, &models.QuerySpecification{}, models.Backend("db2"))
	require.ErrorIs(t, err, apperrors.ErrUnsupportedBackend)
}
