package dml

import (
	"fmt"
	"strings"
)

// PlannerType is the host engine's output-schema type, independent of
// T-SQL's own type system; CTAS DDL maps each one to a fixed SQL type.
type PlannerType int

const (
	PlannerBool PlannerType = iota
	PlannerInt
	PlannerFloat
	PlannerString
	PlannerDecimal
	PlannerTimestamp
	PlannerBinary
	PlannerUUID
)

// PlannerColumn is one column of the planner's output schema feeding a
// CTAS DDL statement.
type PlannerColumn struct {
	Name     string
	Type     PlannerType
	Nullable bool
	// A PlannerDecimal column always maps to decimal(38,38); the column
	// carries no precision or scale of its own.
}

// sqlTypeFor maps a planner type to its fixed T-SQL DDL type, per
// the CTAS type table below.
func sqlTypeFor(t PlannerType) string {
	switch t {
	case PlannerBool:
		return "bit"
	case PlannerInt:
		return "bigint"
	case PlannerFloat:
		return "float"
	case PlannerString:
		return "nvarchar(max)"
	case PlannerDecimal:
		return "decimal(38,38)"
	case PlannerTimestamp:
		return "datetime2(7)"
	case PlannerBinary:
		return "varbinary(max)"
	case PlannerUUID:
		return "uniqueidentifier"
	default:
		return "nvarchar(max)"
	}
}

// CTASOptions configures CREATE TABLE AS SELECT generation.
type CTASOptions struct {
	OrReplace    bool
	DropOnFailure bool
}

// CTASStatement is the two deterministic phases: DDL (CREATE TABLE, and
// an optional preceding DROP for OR REPLACE) then DML (left to the
// caller: either the INSERT path or, when enabled, the bulk path).
type CTASStatement struct {
	Drop   string // "" unless OrReplace
	Create string
}

// BuildCTAS generates the DDL phase for a CREATE TABLE AS SELECT into
// schema.table with the given output schema.
func BuildCTAS(schema, table string, columns []PlannerColumn, opts CTASOptions) CTASStatement {
	qualified := QualifiedName(schema, table)

	defs := make([]string, len(columns))
	for i, c := range columns {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		defs[i] = fmt.Sprintf("%s %s %s", EscapeIdent(c.Name), sqlTypeFor(c.Type), null)
	}

	stmt := CTASStatement{
		Create: fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(defs, ", ")),
	}
	if opts.OrReplace {
		stmt.Drop = fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified)
	}
	return stmt
}

// BestEffortDrop returns the DROP TABLE statement for the DropOnFailure
// cleanup path: best-effort, so the caller should log and ignore its
// result rather than surface a second error on top of the original DML
// failure.
func BestEffortDrop(schema, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QualifiedName(schema, table))
}
