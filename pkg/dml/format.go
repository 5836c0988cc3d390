// Package dml generates the T-SQL statements for the row-identity-based
// DML layer: batched INSERT, VALUES-JOIN UPDATE/DELETE keyed by rowid, and
// the two-phase CREATE TABLE AS SELECT DDL+DML.
package dml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
)

// EscapeIdent brackets name, doubling any embedded ']'.
func EscapeIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QualifiedName brackets schema.table as [schema].[table].
func QualifiedName(schema, table string) string {
	return EscapeIdent(schema) + "." + EscapeIdent(table)
}

// FormatLiteral renders v as a T-SQL literal for a column of the given
// SQL type name (used to decide the N-prefix for string columns). nil
// always renders NULL regardless of type.
func FormatLiteral(v interface{}, sqlType string) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	switch t := v.(type) {
	case string:
		return formatString(t, sqlType), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t), nil
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case decimal.Decimal:
		return t.String(), nil
	case []byte:
		return formatBinary(t), nil
	case time.Time:
		return formatTimestamp(t, sqlType), nil
	default:
		return "", tdserrors.NewProtocolError("dml: unsupported literal type %T", v)
	}
}

func formatString(s, sqlType string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	if isUnicodeType(sqlType) {
		return "N'" + escaped + "'"
	}
	return "'" + escaped + "'"
}

func isUnicodeType(sqlType string) bool {
	t := strings.ToUpper(sqlType)
	return strings.HasPrefix(t, "NVARCHAR") || strings.HasPrefix(t, "NCHAR") || strings.HasPrefix(t, "NTEXT") || t == "UNIQUEIDENTIFIER"
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", tdserrors.NewProtocolError("dml: NaN/Inf is not a valid T-SQL float literal")
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func formatBinary(b []byte) string {
	var sb strings.Builder
	sb.WriteString("0x")
	const hex = "0123456789ABCDEF"
	for _, c := range b {
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0F])
	}
	return sb.String()
}

func formatTimestamp(t time.Time, sqlType string) string {
	layout := "2006-01-02T15:04:05.0000000"
	target := sqlType
	if target == "" {
		target = "datetime2(7)"
	}
	return fmt.Sprintf("CONVERT(%s, '%s', 127)", target, t.UTC().Format(layout))
}
