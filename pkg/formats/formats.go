// Package formats renders query results as JSON, CSV, Excel workbooks and PDF documents.
package formats

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Document is a rendered result ready to be written to an HTTP response or mailed.
type Document struct {
	ContentType string
	FileName    string
	Body        []byte
}

// ContentType returns the MIME type of an output shape.
func ContentType(output models.OutputShape) string {
	switch output {
	case models.OutputCSV:
		return "text/csv; charset=utf-8"
	case models.OutputExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case models.OutputPDF:
		return "application/pdf"
	}
	return "application/json"
}

// Extension returns the file extension of an output shape, without the dot.
func Extension(output models.OutputShape) string {
	switch output {
	case models.OutputCSV:
		return "csv"
	case models.OutputExcel:
		return "xlsx"
	case models.OutputPDF:
		return "pdf"
	}
	return "json"
}

// Render encodes payload for output. name is used as the file name stem and document title.
//
// JSON accepts any payload. CSV needs a single table; Excel and PDF accept a table or a set.
func Render(output models.OutputShape, name string, payload any) (*Document, error) {
	var (
		body []byte
		err  error
	)

	switch output {
	case models.OutputJSON:
		body, err = EncodeJSON(payload)
	case models.OutputCSV:
		table, ok := payload.(*models.Table)
		if !ok {
			return nil, apperrors.Validation("csv output requires a single table result, got %T", payload)
		}
		body = EncodeCSV(table)
	case models.OutputExcel:
		tables, terr := tablesOf(payload)
		if terr != nil {
			return nil, terr
		}
		body, err = EncodeExcel(tables)
	case models.OutputPDF:
		tables, terr := tablesOf(payload)
		if terr != nil {
			return nil, terr
		}
		body, err = EncodePDF(name, tables)
	default:
		return nil, fmt.Errorf("%w: output %q", apperrors.ErrNotImplemented, output)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", output, err)
	}

	return &Document{
		ContentType: ContentType(output),
		FileName:    name + "." + Extension(output),
		Body:        body,
	}, nil
}

// EncodeJSON serializes a result payload. Tables become arrays of row objects and sets become
// objects keyed by table name.
func EncodeJSON(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

func tablesOf(payload any) ([]*models.Table, error) {
	switch p := payload.(type) {
	case *models.Table:
		return []*models.Table{p}, nil
	case *models.DataSet:
		return p.Tables, nil
	}
	return nil, apperrors.Validation("tabular output requires a table or data set result, got %T", payload)
}

// cellText renders a cell for text formats. nil is the empty string.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
