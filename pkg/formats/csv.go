package formats

import (
	"bytes"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// EncodeCSV writes a header row of column names followed by one line per row. Every field is
// double-quoted with embedded quotes doubled and lines end in CRLF.
func EncodeCSV(table *models.Table) []byte {
	var buf bytes.Buffer

	for i, c := range table.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeQuoted(&buf, c.Name)
	}
	buf.WriteString("\r\n")

	for _, row := range table.Rows {
		for i := range table.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			var v any
			if i < len(row) {
				v = row[i]
			}
			writeQuoted(&buf, cellText(v))
		}
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}

func writeQuoted(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	buf.WriteString(strings.ReplaceAll(s, `"`, `""`))
	buf.WriteByte('"')
}
