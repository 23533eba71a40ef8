package models

import (
	"fmt"
	"strings"
)

// ExecutionShape selects which raw-execution primitive runs a query and whether the
// statement is literal SQL text or a stored-procedure call.
type ExecutionShape int

const (
	ShapeUnknown ExecutionShape = iota
	ShapeScalarText
	ShapeScalarProcedure
	ShapeNonQueryText
	ShapeNonQueryProcedure
	ShapeDataTableText
	ShapeDataTableProcedure
	ShapeDataSetText
	ShapeDataSetProcedure
)

var shapeNames = map[ExecutionShape]string{
	ShapeScalarText:         "ScalarText",
	ShapeScalarProcedure:    "ScalarProcedure",
	ShapeNonQueryText:       "NonQueryText",
	ShapeNonQueryProcedure:  "NonQueryProcedure",
	ShapeDataTableText:      "DataTableText",
	ShapeDataTableProcedure: "DataTableProcedure",
	ShapeDataSetText:        "DataSetText",
	ShapeDataSetProcedure:   "DataSetProcedure",
}

// AllExecutionShapes lists the eight supported shapes in declaration order.
func AllExecutionShapes() []ExecutionShape {
	return []ExecutionShape{
		ShapeScalarText, ShapeScalarProcedure,
		ShapeNonQueryText, ShapeNonQueryProcedure,
		ShapeDataTableText, ShapeDataTableProcedure,
		ShapeDataSetText, ShapeDataSetProcedure,
	}
}

func (s ExecutionShape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseExecutionShape parses a shape name case-insensitively.
func ParseExecutionShape(name string) (ExecutionShape, error) {
	for shape, n := range shapeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return shape, nil
		}
	}
	return ShapeUnknown, fmt.Errorf("unknown execution shape: %q", name)
}

// IsProcedure reports whether the statement is a stored-procedure call.
func (s ExecutionShape) IsProcedure() bool {
	switch s {
	case ShapeScalarProcedure, ShapeNonQueryProcedure, ShapeDataTableProcedure, ShapeDataSetProcedure:
		return true
	}
	return false
}

// IsText reports whether the statement is literal SQL that needs inline substitution.
func (s ExecutionShape) IsText() bool {
	switch s {
	case ShapeScalarText, ShapeNonQueryText, ShapeDataTableText, ShapeDataSetText:
		return true
	}
	return false
}

// ReturnsTable reports whether the shape produces tabular data (a table or a set of tables).
func (s ExecutionShape) ReturnsTable() bool {
	switch s {
	case ShapeDataTableText, ShapeDataTableProcedure, ShapeDataSetText, ShapeDataSetProcedure:
		return true
	}
	return false
}

// ReturnsSet reports whether the shape produces a set of tables.
func (s ExecutionShape) ReturnsSet() bool {
	return s == ShapeDataSetText || s == ShapeDataSetProcedure
}

// MarshalText implements encoding.TextMarshaler so shapes read naturally in YAML and JSON.
func (s ExecutionShape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ExecutionShape) UnmarshalText(text []byte) error {
	shape, err := ParseExecutionShape(string(text))
	if err != nil {
		return err
	}
	*s = shape
	return nil
}

// OutputShape is the rendering format of a query result.
type OutputShape string

const (
	OutputJSON  OutputShape = "json"
	OutputCSV   OutputShape = "csv"
	OutputExcel OutputShape = "excel"
	OutputPDF   OutputShape = "pdf"
)

// AllOutputShapes lists every output format.
func AllOutputShapes() []OutputShape {
	return []OutputShape{OutputJSON, OutputCSV, OutputExcel, OutputPDF}
}

// ParseOutputShape parses a format name. An empty name means JSON.
func ParseOutputShape(name string) (OutputShape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return OutputJSON, nil
	case "csv":
		return OutputCSV, nil
	case "excel", "xlsx":
		return OutputExcel, nil
	case "pdf":
		return OutputPDF, nil
	}
	return "", fmt.Errorf("unknown output format: %q", name)
}

// UDTMapping selects how an Oracle structured parameter without a UDT tag is serialized.
type UDTMapping string

const (
	UDTMappingNone UDTMapping = ""
	UDTMappingJSON UDTMapping = "json"
	UDTMappingXML  UDTMapping = "xml"
)

// CachePolicy controls result caching for a query.
type CachePolicy struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// PluginReference names an external pre/post processor for a query.
type PluginReference struct {
	Name      string `yaml:"name" json:"name"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	ClassName string `yaml:"class,omitempty" json:"class,omitempty"`
}

// QuerySpecification is the configuration entity a logical query key resolves to.
// Values are treated as immutable once loaded; materialization produces a Statement instead.
type QuerySpecification struct {
	Key                string           `yaml:"key" json:"key"`
	Query              string           `yaml:"query" json:"query"`
	Shape              ExecutionShape   `yaml:"shape" json:"shape"`
	Parameters         string           `yaml:"parameters,omitempty" json:"parameters,omitempty"` // name$Type[$UDT],...
	Cursors            string           `yaml:"cursors,omitempty" json:"cursors,omitempty"`       // Oracle ref-cursor outputs
	Database           string           `yaml:"database" json:"database"`
	Processor          *PluginReference `yaml:"processor,omitempty" json:"processor,omitempty"`
	Mailer             string           `yaml:"mailer,omitempty" json:"mailer,omitempty"`
	SendOutputViaEmail bool             `yaml:"send_output_via_email,omitempty" json:"send_output_via_email,omitempty"`
	Cache              CachePolicy      `yaml:"cache,omitempty" json:"cache"`
	UDTMapping         UDTMapping       `yaml:"udt_mapping,omitempty" json:"udt_mapping,omitempty"`
	Description        string           `yaml:"description,omitempty" json:"description,omitempty"`
}

// CacheApplicable reports whether results of this query may be served from the result cache.
func (q *QuerySpecification) CacheApplicable() bool {
	return q.Shape.ReturnsTable() && q.Cache.Enabled && q.Cache.TTLSeconds > 0
}

// Statement is a query ready to run: the (possibly materialized) text and the parameters
// that still require true binding.
type Statement struct {
	Text       string
	Procedure  bool
	Parameters []DatabaseParameter
}
