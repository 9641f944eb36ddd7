package remote

import (
	"fmt"
	"strings"
)

// QuoteString renders a SQL string literal, doubling embedded single quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders any supported value as a SQL literal: strings quoted,
// nil as NULL, numerics bare. Integers that mean "unknown" must be passed
// as nil by the caller; zero is a real value here.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int, int64, int32, uint, uint64:
		return fmt.Sprintf("%d", x)
	case float64, float32:
		return fmt.Sprintf("%v", x)
	default:
		return QuoteString(fmt.Sprintf("%v", x))
	}
}

// NullableInt renders a positive int bare and anything else as NULL; used
// for the derived date columns where zero means unparsed.
func NullableInt(v int) string {
	if v == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%d", v)
}

// StatementBytes returns the bytes one statement occupies inside the JSON
// request envelope. encoding/json escapes quotes, backslashes, control
// characters and the HTML-sensitive <, > and &, so the wire size of a
// statement can exceed its raw length; batch builders must budget against
// this size, not len(s). Control characters are counted at the \u00XX worst
// case.
func StatementBytes(s string) int {
	n := len(s)
	for i := 0; i < len(s); i++ {
		switch b := s[i]; {
		case b == '"' || b == '\\':
			n++
		case b == '<' || b == '>' || b == '&' || b < 0x20:
			n += 5
		}
	}
	return n
}

// InList renders a quoted IN-list from string keys.
func InList(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = QuoteString(k)
	}
	return strings.Join(quoted, ", ")
}
