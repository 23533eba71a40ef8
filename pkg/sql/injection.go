package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a literal.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	ParamValue  string // The raw text that was checked
}

// CheckLiteralForInjection uses libinjection to detect SQL injection patterns in text that is
// about to be inlined into a statement without quoting.
//
// Returns nil if no injection is detected.
//
//	CheckLiteralForInjection("ids", "1,2,3")                  // nil
//	CheckLiteralForInjection("ids", "1) OR 1=1; DROP TABLE x") // IsSQLi == true
func CheckLiteralForInjection(paramName, raw string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(raw)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  raw,
	}
}
