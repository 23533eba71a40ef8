package models

import "strings"

// ValueType is the runtime type inferred for an incoming request field.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeBool     ValueType = "bool"
	TypeDateTime ValueType = "datetime"
	TypeInt64    ValueType = "int64"
	TypeDecimal  ValueType = "decimal"
	TypeTable    ValueType = "table"
	TypeBinary   ValueType = "binary"
	TypeNull     ValueType = "null"
	TypeObject   ValueType = "object"
)

// Origin records where a request field came from.
type Origin string

const (
	OriginBody  Origin = "body"
	OriginQuery Origin = "query"
)

// FieldClass is the tag of the request-field variant. Exactly one class holds per field.
type FieldClass string

const (
	ClassScalar FieldClass = "scalar"
	ClassArray  FieldClass = "array"
	ClassTable  FieldClass = "table"
	ClassFile   FieldClass = "file"
)

// FileEncoding is the declared encoding of an embedded file-content field.
type FileEncoding string

const (
	FileEncodingNone   FileEncoding = ""
	FileEncodingCSV    FileEncoding = "csv"
	FileEncodingExcel  FileEncoding = "excel"
	FileEncodingBinary FileEncoding = "binary"
)

// ParseFileEncoding returns the encoding for name and whether it is recognised.
func ParseFileEncoding(name string) (FileEncoding, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FileEncodingCSV, true
	case "excel", "xlsx":
		return FileEncodingExcel, true
	case "binary", "bin", "":
		return FileEncodingBinary, true
	}
	return FileEncodingNone, false
}

// RequestSpecification is one named, typed value extracted from an incoming request.
//
// Value holds, depending on Class and Type:
//   - scalar: string, bool, int64, decimal.Decimal or nil
//   - array: []any of the scalar forms
//   - table / file (csv, excel): *Table
//   - file (binary): []byte
type RequestSpecification struct {
	Name         string       `json:"name"`
	Value        any          `json:"value"`
	Type         ValueType    `json:"type"`
	Origin       Origin       `json:"origin"`
	Class        FieldClass   `json:"class"`
	FileEncoding FileEncoding `json:"file_encoding,omitempty"`
}

func (r RequestSpecification) IsArray() bool { return r.Class == ClassArray }
func (r RequestSpecification) IsTable() bool { return r.Class == ClassTable }
func (r RequestSpecification) IsFile() bool  { return r.Class == ClassFile }

// IsTabular reports whether the value is carried as a *Table.
func (r RequestSpecification) IsTabular() bool {
	_, ok := r.Value.(*Table)
	return ok
}
