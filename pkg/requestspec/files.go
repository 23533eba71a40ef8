package requestspec

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// ParseFileFields parses a file-field declaration of the form "name=csv,other=excel,blob".
// An entry without an encoding is opaque binary.
func ParseFileFields(decl string) (map[string]models.FileEncoding, error) {
	fields := map[string]models.FileEncoding{}
	for _, entry := range strings.Split(decl, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, encName, _ := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("file field declaration %q has no name", entry)
		}
		enc, ok := models.ParseFileEncoding(encName)
		if !ok {
			return nil, fmt.Errorf("file field %q has unknown encoding %q", name, encName)
		}
		fields[strings.ToLower(name)] = enc
	}
	return fields, nil
}

func extractFile(name string, raw json.RawMessage, enc models.FileEncoding) models.RequestSpecification {
	spec := models.RequestSpecification{
		Name:         name,
		Origin:       models.OriginBody,
		Class:        models.ClassFile,
		FileEncoding: enc,
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return degrade(spec)
	}
	data, err := decodeBase64(encoded)
	if err != nil {
		return degrade(spec)
	}

	switch enc {
	case models.FileEncodingCSV:
		table, err := TableFromCSV(name, data)
		if err != nil {
			return degrade(spec)
		}
		spec.Type, spec.Value = models.TypeTable, table
	case models.FileEncodingExcel:
		table, err := TableFromExcel(name, data)
		if err != nil {
			return degrade(spec)
		}
		spec.Type, spec.Value = models.TypeTable, table
	default:
		spec.Type, spec.Value = models.TypeBinary, data
	}
	return spec
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	// data URLs: "data:text/csv;base64,...."
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// TableFromCSV parses CSV content whose first record is the header row. Cells are strings.
func TableFromCSV(name string, data []byte) (*models.Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV content: %w", err)
	}
	return tableFromRecords(name, records)
}

// TableFromExcel reads the first sheet of a workbook whose first row is the header row.
func TableFromExcel(name string, data []byte) (*models.Table, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return tableFromRecords(name, rows)
}

func tableFromRecords(name string, records [][]string) (*models.Table, error) {
	if len(records) == 0 {
		return nil, errors.New("file content is empty")
	}
	table := models.NewTable(name, records[0]...)
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = cell
		}
		table.AddRow(row...)
	}
	return table, nil
}
