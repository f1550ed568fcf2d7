package types

import (
	"regexp"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// MaxIdentifierLength is the longest identifier PostgreSQL keeps without truncation
	MaxIdentifierLength = 63
)

var (
	reIdentifier = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	reNumeric    = regexp.MustCompile(`^[0-9]+$`)
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// IsIdentifier returns true if the value is a lower-case identifier which
// starts with a letter and contains only letters, digits and underscores,
// and fits within the PostgreSQL identifier length
func IsIdentifier(v string) bool {
	return len(v) <= MaxIdentifierLength && reIdentifier.MatchString(v)
}

// IsNumeric returns true if the value consists only of digits
func IsNumeric(v string) bool {
	return reNumeric.MatchString(v)
}

// IsSingleQuoted returns true if the value is wrapped in single quotes
func IsSingleQuoted(v string) bool {
	return len(v) >= 2 && strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'")
}

// IsDoubleQuoted returns true if the value is wrapped in double quotes
func IsDoubleQuoted(v string) bool {
	return len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`)
}

// Quote returns a single-quoted SQL string literal
func Quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// DoubleQuote returns a double-quoted SQL identifier
func DoubleQuote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
