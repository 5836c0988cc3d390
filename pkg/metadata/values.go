package metadata

import (
	"strings"

	"github.com/shopspring/decimal"
)

// asString coerces a decoded TDS value to a string, the shape every
// INFORMATION_SCHEMA text column decodes to.
func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

// asInt64 coerces a decoded TDS numeric value (int16/32/64 or
// shopspring/decimal, depending on the server's reported type) to an
// int64. NULL decodes to (0, false).
func asInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case uint8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case decimal.Decimal:
		return t.IntPart(), true
	default:
		return 0, false
	}
}

// quoteLiteral renders s as a single-quoted T-SQL string literal, doubling
// embedded quotes. Used for the schema and table names in the catalog
// discovery queries.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
