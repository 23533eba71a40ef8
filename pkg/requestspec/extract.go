// Package requestspec turns an untyped HTTP request (JSON body plus query string) into an
// ordered list of typed request fields.
package requestspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Options controls extraction.
type Options struct {
	// FileFields maps a lower-cased field name to the encoding of its embedded file content.
	FileFields map[string]models.FileEncoding
}

func (o Options) fileEncoding(name string) (models.FileEncoding, bool) {
	if len(o.FileFields) == 0 {
		return models.FileEncodingNone, false
	}
	enc, ok := o.FileFields[strings.ToLower(name)]
	return enc, ok
}

// QueryPair is one key/value occurrence from a query string, in the order it appeared.
type QueryPair struct {
	Key   string
	Value string
}

// ParseQueryString splits a raw query string into pairs, preserving order and repeats.
// Malformed escapes are kept verbatim.
func ParseQueryString(raw string) []QueryPair {
	var pairs []QueryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		if key == "" {
			continue
		}
		pairs = append(pairs, QueryPair{Key: key, Value: value})
	}
	return pairs
}

// Extract parses body (a JSON object, possibly empty) and query into request fields.
// Body fields come first in document order, then one string-typed entry per query pair.
// A field whose value cannot be converted is kept with a null type and nil value; only a
// body that is not a JSON object fails the whole extraction.
func Extract(body []byte, query []QueryPair, opts Options) ([]models.RequestSpecification, error) {
	specs, err := extractBody(body, opts)
	if err != nil {
		return nil, err
	}
	for _, p := range query {
		specs = append(specs, models.RequestSpecification{
			Name:   p.Key,
			Value:  p.Value,
			Type:   models.TypeString,
			Origin: models.OriginQuery,
			Class:  models.ClassScalar,
		})
	}
	return specs, nil
}

func extractBody(body []byte, opts Options) ([]models.RequestSpecification, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("invalid request body: expected a JSON object")
	}

	var specs []models.RequestSpecification
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		name, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid request body: field %q: %w", name, err)
		}

		if enc, ok := opts.fileEncoding(name); ok {
			specs = append(specs, extractFile(name, raw, enc))
			continue
		}
		specs = append(specs, extractField(name, raw))
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return specs, nil
}

func extractField(name string, raw json.RawMessage) models.RequestSpecification {
	spec := models.RequestSpecification{Name: name, Origin: models.OriginBody, Class: models.ClassScalar}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return degrade(spec)
		}
		if hasObjectElement(elems) {
			spec.Class = models.ClassTable
			table, err := tableFromObjects(name, elems)
			if err != nil {
				return degrade(spec)
			}
			spec.Type = models.TypeTable
			spec.Value = table
			return spec
		}

		spec.Class = models.ClassArray
		values := make([]any, 0, len(elems))
		spec.Type = models.TypeNull
		for i, e := range elems {
			v, err := decodeValue(e)
			if err != nil {
				return degrade(spec)
			}
			t, cv := InferType(v, models.OriginBody)
			if i == 0 {
				spec.Type = t
			}
			values = append(values, cv)
		}
		spec.Value = values
		return spec
	}

	v, err := decodeValue(trimmed)
	if err != nil {
		return degrade(spec)
	}
	spec.Type, spec.Value = InferType(v, models.OriginBody)
	return spec
}

// InferType maps a decoded JSON value to its value type and normalised Go value.
// Numbers must be json.Number (decoded with UseNumber). Values of any other kind become
// null when they came from the body and object when they came from the query string.
func InferType(v any, origin models.Origin) (models.ValueType, any) {
	switch x := v.(type) {
	case string:
		return models.TypeString, x
	case bool:
		return models.TypeBool, x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return models.TypeInt64, i
		}
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return models.TypeDecimal, d
		}
	}
	if origin == models.OriginQuery && v != nil {
		return models.TypeObject, v
	}
	return models.TypeNull, nil
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func hasObjectElement(elems []json.RawMessage) bool {
	for _, e := range elems {
		t := bytes.TrimSpace(e)
		if len(t) > 0 && t[0] == '{' {
			return true
		}
	}
	return false
}

// tableFromObjects builds a table from an array of JSON objects. Columns are the union of
// keys in first-seen order; nested values become nil cells.
func tableFromObjects(name string, elems []json.RawMessage) (*models.Table, error) {
	table := models.NewTable(name)
	index := map[string]int{}
	var rows []map[string]any

	for _, e := range elems {
		keys, values, err := decodeObject(e)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, seen := index[k]; !seen {
				index[k] = len(table.Columns)
				table.Columns = append(table.Columns, models.Column{Name: k})
			}
		}
		rows = append(rows, values)
	}

	for _, values := range rows {
		row := make([]any, len(table.Columns))
		for k, v := range values {
			_, row[index[k]] = InferType(v, models.OriginBody)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func decodeObject(raw []byte) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("table row is not an object")
	}

	var keys []string
	values := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = v
	}
	return keys, values, nil
}

func degrade(spec models.RequestSpecification) models.RequestSpecification {
	spec.Type = models.TypeNull
	spec.Value = nil
	return spec
}
