package requestspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// DecodeTabular turns JSON back into a tabular value. An array of objects becomes a table
// called name. An object whose members are all arrays of objects becomes a data set with one
// table per member, in document order. ok is false for any other document.
func DecodeTabular(name string, raw []byte) (value any, ok bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, nil
	}

	switch trimmed[0] {
	case '[':
		t, ok, err := decodeRows(name, trimmed)
		if !ok || err != nil {
			return nil, false, err
		}
		return t, true, nil
	case '{':
		return decodeSet(trimmed)
	}
	return nil, false, nil
}

// decodeRows decodes an array whose elements are all objects.
func decodeRows(name string, raw []byte) (*models.Table, bool, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false, fmt.Errorf("invalid table %q: %w", name, err)
	}
	for _, e := range elems {
		t := bytes.TrimSpace(e)
		if len(t) == 0 || t[0] != '{' {
			return nil, false, nil
		}
	}
	t, err := tableFromObjects(name, elems)
	if err != nil {
		return nil, false, fmt.Errorf("invalid table %q: %w", name, err)
	}
	return t, true, nil
}

func decodeSet(raw []byte) (any, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, false, err
	}

	set := &models.DataSet{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false, err
		}
		name, _ := tok.(string)

		var member json.RawMessage
		if err := dec.Decode(&member); err != nil {
			return nil, false, fmt.Errorf("invalid table %q: %w", name, err)
		}
		member = bytes.TrimSpace(member)
		if len(member) == 0 || member[0] != '[' {
			return nil, false, nil
		}
		t, ok, err := decodeRows(name, member)
		if !ok || err != nil {
			return nil, false, err
		}
		set.Tables = append(set.Tables, t)
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	return set, true, nil
}
