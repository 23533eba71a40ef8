package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
	// RedactedLiteral replaces quoted literals inlined into statement text
	RedactedLiteral = "'?'"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter).
	// Covers sqlserver:// query parameters and ADO-style key=value strings.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Azure AD access tokens passed through fedauth connection parameters or query strings
	accessTokenPattern = regexp.MustCompile(`(?i)(access_?token|token)=[^;&\s]+`)

	// Pattern to match JWT tokens (three base64 segments separated by dots)
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Userinfo in sqlserver:// and oracle:// URLs. Greedy up to the last '@' before the path
	// so passwords containing '@' are fully covered.
	urlCredentialsPattern = regexp.MustCompile(`://[^/?\s]*@`)

	// Single-quoted SQL literals with '' escapes
	quotedLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// SanitizeConnectionString removes credentials from connection strings.
// The host, port and database stay visible.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := urlCredentialsPattern.ReplaceAllString(connStr, "://"+RedactedText+"@")
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = accessTokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data
// Use this before logging any error from database operations
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := SanitizeConnectionString(err.Error())
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)

	return sanitized
}

// SanitizeQuery prepares statement text for logging. Text queries carry caller values inlined
// as quoted literals, so every quoted literal is replaced before the text is truncated.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := quotedLiteralPattern.ReplaceAllString(query, RedactedLiteral)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return TruncateString(sanitized, MaxQueryLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
