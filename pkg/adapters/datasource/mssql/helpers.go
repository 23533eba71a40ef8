package mssql

import (
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"
)

// isStringType returns true if the type is a string type in SQL Server.
func isStringType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML":
		return true
	}
	return false
}

// isDecimalType returns true for exact numeric types the driver returns as text bytes.
func isDecimalType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}

// normalizeValue converts scanned SQL Server values into JSON-friendly Go values.
func normalizeValue(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	switch {
	case isStringType(dbType):
		return string(b)
	case isDecimalType(dbType):
		if d, err := decimal.NewFromString(string(b)); err == nil {
			return d
		}
		return string(b)
	case strings.EqualFold(dbType, "UNIQUEIDENTIFIER"):
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	}
	return b
}
