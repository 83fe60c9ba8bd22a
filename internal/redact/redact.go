// Package redact scrubs credentials, connection strings, SQL and file paths
// from strings before they are logged or returned in error responses.
package redact

import (
	"log/slog"
	"regexp"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; earlier rules may consume text later rules would match.
var rules = []rule{
	// Stack traces: everything from the first goroutine header on.
	{regexp.MustCompile(`goroutine \d+ \[[^\]]*\]:[\s\S]*`), "[STACK_TRACE_REDACTED]"},

	// Three-part base64url JWTs.
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},

	// URL-style connection strings with user info.
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|mongodb|db|database|connection)://[^@\s]+@`), RedactedCredentialPlaceholder},

	// go-sql-driver/mysql DSNs: user:password@tcp(host)/db
	{regexp.MustCompile(`[^\s:/@]+:[^\s@/]+@(tcp|unix)\(`), RedactedCredentialPlaceholder + "@${1}("},

	// bcrypt hashes.
	{regexp.MustCompile(`\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}`), "[REDACTED_HASH]"},

	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`), RedactedKeyPlaceholder},

	{regexp.MustCompile(`(/[\w.-]+){2,}`), RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`), RedactedPathPlaceholder},

	{
		regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|GRANT|TRUNCATE|LOCK)[\s\w,*()]+(?:FROM|INTO|SET|TABLE|DATABASE|SCHEMA|VIEW)(?:[\s\w,*()='"]+)?`),
		"[REDACTED_SQL]",
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Attr returns err as a redacted "error" log attribute.
func Attr(err error) slog.Attr {
	return slog.String("error", Error(err))
}
