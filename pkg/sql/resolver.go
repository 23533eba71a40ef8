package sql

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// ResolveParameters maps extracted request fields onto the query's declared input list for
// the given backend and returns the bind list.
//
// Matching is by case-insensitive name only. Duplicate request fields collapse with the last
// occurrence winning, so query-string values override body values. Request fields that the
// declaration does not mention are still bound.
//
// Oracle queries additionally get one output RefCursor per declared cursor name, and
// structured values without a UDT tag are serialized per the query's UDT mapping.
func ResolveParameters(specs []models.RequestSpecification, q *models.QuerySpecification, backend models.Backend) ([]models.DatabaseParameter, error) {
	if backend != models.BackendMSSQL && backend != models.BackendOracle {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedBackend, backend)
	}

	decls, err := ParseDeclarations(q.Parameters)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, fmt.Sprintf("query %q has an invalid parameter list", q.Key), err)
	}
	declared := make(map[string]Declaration, len(decls))
	for _, d := range decls {
		declared[strings.ToLower(d.Name)] = d
	}

	params := make([]models.DatabaseParameter, 0, len(specs))
	position := map[string]int{}

	for _, spec := range dedupe(specs) {
		decl, matched := declared[strings.ToLower(spec.Name)]
		p := toParameter(spec, decl, matched)

		if p.Kind == models.KindStructured {
			switch backend {
			case models.BackendMSSQL:
				if matched && decl.Tag != "" {
					p.Tag = decl.Tag
				}
			case models.BackendOracle:
				if p, err = resolveOracleStructured(p, decl, matched, q); err != nil {
					return nil, err
				}
			}
		}

		position[strings.ToLower(p.Name)] = len(params)
		params = append(params, p)
	}

	if backend == models.BackendOracle {
		for _, name := range ParseCursors(q.Cursors) {
			cursor := models.DatabaseParameter{Name: name, Kind: models.KindRefCursor, Output: true}
			if i, ok := position[strings.ToLower(name)]; ok {
				params[i] = cursor
				continue
			}
			params = append(params, cursor)
		}
	}
	return params, nil
}

// dedupe collapses fields with the same case-insensitive name. The surviving entry keeps the
// position of the first occurrence and takes the value of the last.
func dedupe(specs []models.RequestSpecification) []models.RequestSpecification {
	out := make([]models.RequestSpecification, 0, len(specs))
	index := map[string]int{}
	for _, s := range specs {
		key := strings.ToLower(s.Name)
		if i, ok := index[key]; ok {
			out[i] = s
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}

func toParameter(spec models.RequestSpecification, decl Declaration, matched bool) models.DatabaseParameter {
	p := models.DatabaseParameter{
		Name:  spec.Name,
		Value: spec.Value,
		Kind:  models.KindForValueType(spec.Type),
	}
	switch {
	case spec.IsFile() && spec.Type == models.TypeBinary:
		p.Kind = models.KindBinary
	case spec.IsTabular():
		p.Kind = models.KindStructured
	}

	if matched {
		// placeholders are matched case-insensitively, but procedures bind by the declared name
		p.Name = decl.Name
		if decl.HasKind && !spec.IsTabular() && spec.Type != models.TypeBinary {
			p.Kind = decl.Kind
		}
		if decl.HasKind && decl.Kind == models.KindStructured && spec.IsTabular() {
			p.Kind = models.KindStructured
		}
	}
	if s, ok := p.Value.(string); ok && p.Kind == models.KindNVarChar {
		p.Size = len(s)
	}
	return p
}

func resolveOracleStructured(p models.DatabaseParameter, decl Declaration, matched bool, q *models.QuerySpecification) (models.DatabaseParameter, error) {
	if matched && decl.Tag != "" {
		p.Tag = decl.Tag
		return p, nil
	}

	table, ok := p.Value.(*models.Table)
	if !ok {
		return p, nil
	}

	var (
		serialized string
		err        error
	)
	switch q.UDTMapping {
	case models.UDTMappingJSON:
		serialized, err = TableToJSON(table)
	case models.UDTMappingXML:
		serialized, err = TableToXML(table)
	default:
		return p, apperrors.Configuration("query %q binds table value %q to Oracle without a UDT tag or udt_mapping", q.Key, p.Name)
	}
	if err != nil {
		return p, apperrors.Wrap(apperrors.KindConfiguration, fmt.Sprintf("failed to serialize %q", p.Name), err)
	}

	p.Value = serialized
	p.Kind = models.KindNVarChar
	p.Size = len(serialized)
	return p, nil
}
