package models

import "strings"

// ParameterKind is the database type a parameter is bound as.
type ParameterKind int

const (
	KindUnknown ParameterKind = iota
	KindNVarChar
	KindBit
	KindBigInt
	KindDecimal
	KindDateTime
	KindStructured
	KindBinary
	KindRefCursor
)

var kindNames = map[ParameterKind]string{
	KindUnknown:    "Unknown",
	KindNVarChar:   "NVarChar",
	KindBit:        "Bit",
	KindBigInt:     "BigInt",
	KindDecimal:    "Decimal",
	KindDateTime:   "DateTime",
	KindStructured: "Structured",
	KindBinary:     "Binary",
	KindRefCursor:  "RefCursor",
}

// kindAliases maps declared type names (lower case) to a kind.
var kindAliases = map[string]ParameterKind{
	"nvarchar":      KindNVarChar,
	"varchar":       KindNVarChar,
	"string":        KindNVarChar,
	"varchar2":      KindNVarChar,
	"nvarchar2":     KindNVarChar,
	"bit":           KindBit,
	"bool":          KindBit,
	"boolean":       KindBit,
	"bigint":        KindBigInt,
	"int":           KindBigInt,
	"int64":         KindBigInt,
	"integer":       KindBigInt,
	"decimal":       KindDecimal,
	"number":        KindDecimal,
	"numeric":       KindDecimal,
	"datetime":      KindDateTime,
	"date":          KindDateTime,
	"timestamp":     KindDateTime,
	"structured":    KindStructured,
	"table":         KindStructured,
	"udt":           KindStructured,
	"binary":        KindBinary,
	"varbinary":     KindBinary,
	"blob":          KindBinary,
	"refcursor":     KindRefCursor,
	"sys_refcursor": KindRefCursor,
	"cursor":        KindRefCursor,
}

func (k ParameterKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ParseParameterKind maps a declared type name to a kind. The boolean is false when the
// name is not recognised.
func ParseParameterKind(name string) (ParameterKind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// KindForValueType returns the kind a request field of type t binds as by default.
func KindForValueType(t ValueType) ParameterKind {
	switch t {
	case TypeString, TypeObject:
		return KindNVarChar
	case TypeBool:
		return KindBit
	case TypeInt64:
		return KindBigInt
	case TypeDecimal:
		return KindDecimal
	case TypeDateTime:
		return KindDateTime
	case TypeTable:
		return KindStructured
	case TypeBinary:
		return KindBinary
	}
	return KindUnknown
}

// RequiresBinding reports whether a parameter of this kind cannot be inlined as a literal.
func (k ParameterKind) RequiresBinding() bool {
	return k == KindStructured || k == KindBinary || k == KindRefCursor
}

// DatabaseParameter is one entry of a resolved bind list.
type DatabaseParameter struct {
	Name   string        `json:"name"`
	Value  any           `json:"value"`
	Kind   ParameterKind `json:"kind"`
	Output bool          `json:"output,omitempty"`
	Size   int           `json:"size,omitempty"`
	Tag    string        `json:"tag,omitempty"` // UDT name, structured parameters only
}
