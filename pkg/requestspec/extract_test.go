package requestspec

import (
	"encoding/base64"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func TestExtract_TokenKinds(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantType  models.ValueType
		wantValue any
	}{
		{"string", `{"v": "hello"}`, models.TypeString, "hello"},
		{"date stays string", `{"v": "2024-01-31T10:00:00Z"}`, models.TypeString, "2024-01-31T10:00:00Z"},
		{"guid stays string", `{"v": "7c9e6679-7425-40de-944b-e07fc1f90ae7"}`, models.TypeString, "7c9e6679-7425-40de-944b-e07fc1f90ae7"},
		{"uri stays string", `{"v": "https://example.com/a?b=c"}`, models.TypeString, "https://example.com/a?b=c"},
		{"bool", `{"v": true}`, models.TypeBool, true},
		{"integer", `{"v": 42}`, models.TypeInt64, int64(42)},
		{"negative integer", `{"v": -7}`, models.TypeInt64, int64(-7)},
		{"float", `{"v": 3.25}`, models.TypeDecimal, decimal.RequireFromString("3.25")},
		{"null", `{"v": null}`, models.TypeNull, nil},
		{"nested object", `{"v": {"a": 1}}`, models.TypeNull, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := Extract([]byte(tt.body), nil, Options{})
			require.NoError(t, err)
			require.Len(t, specs, 1)

			s := specs[0]
			assert.Equal(t, "v", s.Name)
			assert.Equal(t, models.OriginBody, s.Origin)
			assert.Equal(t, models.ClassScalar, s.Class)
			assert.Equal(t, tt.wantType, s.Type)
			if d, ok := tt.wantValue.(decimal.Decimal); ok {
				assert.True(t, d.Equal(s.Value.(decimal.Decimal)))
				return
			}
			assert.Equal(t, tt.wantValue, s.Value)
		})
	}
}

func TestInferType_QueryOriginObject(t *testing.T) {
	typ, v := InferType(map[string]any{"a": "b"}, models.OriginQuery)
	assert.Equal(t, models.TypeObject, typ)
	assert.NotNil(t, v)

	typ, v = InferType(map[string]any{"a": "b"}, models.OriginBody)
	assert.Equal(t, models.TypeNull, typ)
	assert.Nil(t, v)
}

func TestExtract_PreservesDocumentOrder(t *testing.T) {
	specs, err := Extract([]byte(`{"zeta": 1, "alpha": 2, "mid": 3}`), nil, Options{})
	require.NoError(t, err)

	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestExtract_QueryStringAppendedAfterBody(t *testing.T) {
	query := ParseQueryString("id=9&tag=a&tag=b&name=O%27Brien")

	specs, err := Extract([]byte(`{"id": 5, "x": true}`), query, Options{})
	require.NoError(t, err)
	require.Len(t, specs, 6)

	assert.Equal(t, models.OriginBody, specs[0].Origin)
	assert.Equal(t, models.OriginBody, specs[1].Origin)

	for _, s := range specs[2:] {
		assert.Equal(t, models.OriginQuery, s.Origin)
		assert.Equal(t, models.TypeString, s.Type)
		assert.Equal(t, models.ClassScalar, s.Class)
	}
	assert.Equal(t, "id", specs[2].Name)
	assert.Equal(t, "9", specs[2].Value)
	assert.Equal(t, "a", specs[3].Value)
	assert.Equal(t, "b", specs[4].Value)
	assert.Equal(t, "O'Brien", specs[5].Value)
}

func TestExtract_QueryStringOnly(t *testing.T) {
	specs, err := Extract(nil, ParseQueryString("a=1&b=2"), Options{})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, models.OriginQuery, specs[0].Origin)
}

func TestExtract_RejectsNonObjectBody(t *testing.T) {
	_, err := Extract([]byte(`[1,2,3]`), nil, Options{})
	require.Error(t, err)

	_, err = Extract([]byte(`{"a": `), nil, Options{})
	require.Error(t, err)
}

func TestExtract_ArrayOfScalars(t *testing.T) {
	specs, err := Extract([]byte(`{"ids": [1, 2, 3]}`), nil, Options{})
	require.NoError(t, err)
	require.Len(t, specs, 1)

	s := specs[0]
	assert.Equal(t, models.ClassArray, s.Class)
	assert.Equal(t, models.TypeInt64, s.Type)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, s.Value)
}

func TestExtract_ArrayOfObjectsIsTable(t *testing.T) {
	body := `{"items": [{"sku": "A1", "qty": 2}, {"qty": 5, "note": "rush"}]}`

	specs, err := Extract([]byte(body), nil, Options{})
	require.NoError(t, err)
	require.Len(t, specs, 1)

	s := specs[0]
	assert.Equal(t, models.ClassTable, s.Class)
	assert.Equal(t, models.TypeTable, s.Type)

	table, ok := s.Value.(*models.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"sku", "qty", "note"}, table.ColumnNames())
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []any{"A1", int64(2), nil}, table.Rows[0])
	assert.Equal(t, []any{nil, int64(5), "rush"}, table.Rows[1])
}

func TestExtract_FileFieldCSV(t *testing.T) {
	csvContent := "name,qty\nwidget,3\n\"gadget, large\",1\n"
	body := `{"upload": "` + base64.StdEncoding.EncodeToString([]byte(csvContent)) + `", "batch": 7}`

	fields, err := ParseFileFields("Upload=csv")
	require.NoError(t, err)

	specs, err := Extract([]byte(body), nil, Options{FileFields: fields})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	s := specs[0]
	assert.Equal(t, models.ClassFile, s.Class)
	assert.Equal(t, models.FileEncodingCSV, s.FileEncoding)
	assert.Equal(t, models.TypeTable, s.Type)

	table := s.Value.(*models.Table)
	assert.Equal(t, []string{"name", "qty"}, table.ColumnNames())
	assert.Equal(t, [][]any{{"widget", "3"}, {"gadget, large", "1"}}, table.Rows)

	assert.Equal(t, models.TypeInt64, specs[1].Type)
}

func TestExtract_FileFieldExcel(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "code"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "label"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "X1"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "first"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	body := `{"sheet": "` + base64.StdEncoding.EncodeToString(buf.Bytes()) + `"}`
	specs, err := Extract([]byte(body), nil, Options{FileFields: map[string]models.FileEncoding{"sheet": models.FileEncodingExcel}})
	require.NoError(t, err)
	require.Len(t, specs, 1)

	table := specs[0].Value.(*models.Table)
	assert.Equal(t, []string{"code", "label"}, table.ColumnNames())
	assert.Equal(t, [][]any{{"X1", "first"}}, table.Rows)
}

func TestExtract_FileFieldBinary(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xfe}
	body := `{"blob": "` + base64.StdEncoding.EncodeToString(payload) + `"}`

	fields, err := ParseFileFields("blob")
	require.NoError(t, err)

	specs, err := Extract([]byte(body), nil, Options{FileFields: fields})
	require.NoError(t, err)
	assert.Equal(t, models.TypeBinary, specs[0].Type)
	assert.Equal(t, payload, specs[0].Value)
}

func TestExtract_FileFieldFailureDegradesToNull(t *testing.T) {
	body := `{"upload": "%%%not base64%%%", "id": 1}`

	specs, err := Extract([]byte(body), nil, Options{FileFields: map[string]models.FileEncoding{"upload": models.FileEncodingCSV}})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, models.ClassFile, specs[0].Class)
	assert.Equal(t, models.TypeNull, specs[0].Type)
	assert.Nil(t, specs[0].Value)
	assert.Equal(t, int64(1), specs[1].Value)
}

func TestParseFileFields_UnknownEncoding(t *testing.T) {
	_, err := ParseFileFields("a=csv,b=parquet")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	file := models.RequestSpecification{Name: "upload", Class: models.ClassFile}
	scalar := models.RequestSpecification{Name: "id", Class: models.ClassScalar}

	tests := []struct {
		name    string
		specs   []models.RequestSpecification
		shape   models.ExecutionShape
		output  models.OutputShape
		wantErr bool
	}{
		{"file with data set procedure", []models.RequestSpecification{file}, models.ShapeDataSetProcedure, models.OutputJSON, false},
		{"file with data table text", []models.RequestSpecification{file}, models.ShapeDataTableText, models.OutputCSV, false},
		{"file with scalar text", []models.RequestSpecification{file}, models.ShapeScalarText, models.OutputJSON, true},
		{"file with non query procedure", []models.RequestSpecification{file}, models.ShapeNonQueryProcedure, models.OutputJSON, true},
		{"scalar with csv output", []models.RequestSpecification{scalar}, models.ShapeScalarText, models.OutputCSV, true},
		{"non query with json output", []models.RequestSpecification{scalar}, models.ShapeNonQueryText, models.OutputJSON, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.specs, tt.shape, tt.output)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
				return
			}
			require.NoError(t, err)
		})
	}
}
