// Package sql resolves request fields into backend-specific bind lists and materializes
// text queries by inlining literal values.
package sql

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Declaration is one entry of a query's declared input list.
//
// The list is comma separated and each entry has the form name[$Type[$UDT]]:
//
//	id$BigInt,customer$NVarChar,items$Structured$dbo.ItemList
type Declaration struct {
	Name     string
	TypeName string
	Kind     models.ParameterKind
	HasKind  bool // TypeName parsed to a known kind
	Tag      string
}

// ParseDeclarations parses a declared input list. An empty list yields no declarations.
func ParseDeclarations(list string) ([]Declaration, error) {
	var decls []Declaration
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "$")
		if len(parts) > 3 {
			return nil, fmt.Errorf("parameter declaration %q has too many $ segments", entry)
		}

		d := Declaration{Name: strings.TrimSpace(parts[0])}
		if d.Name == "" {
			return nil, fmt.Errorf("parameter declaration %q has no name", entry)
		}
		d.Name = strings.TrimLeft(d.Name, "@:")
		if len(parts) > 1 {
			d.TypeName = strings.TrimSpace(parts[1])
			d.Kind, d.HasKind = models.ParseParameterKind(d.TypeName)
		}
		if len(parts) > 2 {
			d.Tag = strings.TrimSpace(parts[2])
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// ParseCursors splits a comma-delimited list of Oracle ref-cursor names.
func ParseCursors(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, strings.TrimLeft(name, ":"))
		}
	}
	return names
}

// PlaceholderPrefix returns the character that introduces a named parameter in the backend's dialect.
func PlaceholderPrefix(backend models.Backend) byte {
	if backend == models.BackendOracle {
		return ':'
	}
	return '@'
}

// Placeholders returns the distinct placeholder names referenced by text, in order of first
// appearance. Names are returned as written.
//
//	Placeholders("SELECT * FROM T WHERE a=@a AND b=@B OR a2=@a", models.BackendMSSQL)
//	// []string{"a", "B"}
func Placeholders(text string, backend models.Backend) []string {
	prefix := PlaceholderPrefix(backend)
	seen := map[string]bool{}
	var names []string

	scanPlaceholders(text, prefix, func(name string) (string, bool) {
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			names = append(names, name)
		}
		return "", false
	})
	return names
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c == '#' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// scanPlaceholders walks text once and calls replace for every prefix-introduced identifier.
// When replace returns ok the identifier (with its prefix) is replaced by the returned text.
// A prefix preceded by an identifier character or by another prefix is not a placeholder,
// so @@ROWCOUNT and ::type casts are left alone.
func scanPlaceholders(text string, prefix byte, replace func(name string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		c := text[i]
		if c != prefix || (i > 0 && (isIdentChar(text[i-1]) || text[i-1] == prefix)) {
			b.WriteByte(c)
			i++
			continue
		}

		j := i + 1
		for j < len(text) && isIdentChar(text[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			i++
			continue
		}

		if literal, ok := replace(text[i+1 : j]); ok {
			b.WriteString(literal)
		} else {
			b.WriteString(text[i:j])
		}
		i = j
	}
	return b.String()
}
