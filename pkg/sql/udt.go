package sql

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// TableToJSON serializes a table as an array of row objects for Oracle JSON_TABLE consumers.
func TableToJSON(t *models.Table) (string, error) {
	b, err := json.Marshal(t.Records())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TableToXML serializes a table in the canonical ROWSET form read by Oracle XMLTABLE:
//
//	<ROWSET><ROW><ID>1</ID><NAME>a</NAME></ROW></ROWSET>
//
// Column names are upper-cased; nil cells are omitted.
func TableToXML(t *models.Table) (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	rowset := xml.StartElement{Name: xml.Name{Local: "ROWSET"}}
	if err := enc.EncodeToken(rowset); err != nil {
		return "", err
	}
	for _, row := range t.Rows {
		rowElem := xml.StartElement{Name: xml.Name{Local: "ROW"}}
		if err := enc.EncodeToken(rowElem); err != nil {
			return "", err
		}
		for i, col := range t.Columns {
			if i >= len(row) || row[i] == nil {
				continue
			}
			name := strings.ToUpper(col.Name)
			if err := enc.EncodeElement(formatValue(row[i]), xml.StartElement{Name: xml.Name{Local: name}}); err != nil {
				return "", fmt.Errorf("column %q: %w", col.Name, err)
			}
		}
		if err := enc.EncodeToken(rowElem.End()); err != nil {
			return "", err
		}
	}
	if err := enc.EncodeToken(rowset.End()); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatValue renders a scalar as plain text, without SQL quoting.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format("2006-01-02T15:04:05.000")
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
