// Package filter turns document-style filter maps into parameterized SQL
// WHERE fragments.
//
// A Filter maps a field name to either a literal (equality; nil means IS NULL)
// or an operator object such as {"$gte": 3}. Supported operators are $eq, $gt,
// $gte, $lt, $lte, $ne, $in and $nin. A slice given without an operator is an
// opaque value compared for equality, never a set.
//
// Fallback (schemaless) targets only support equality: fields are read with
// the dialect's JSON text accessor and compared with a string-cast parameter.
// Operator objects against a fallback target fail with ErrUnsupportedOperator
// instead of degrading to string equality.
package filter

import (
	"errors"
	"regexp"
)

// Filter selects records. The zero value (nil) matches every record.
type Filter map[string]any

// Op is an operator object, e.g. Op{"$in": []string{"a", "b"}}.
type Op map[string]any

var (
	// ErrMalformedFilter reports operator misuse, e.g. $in with a non-slice value.
	ErrMalformedFilter = errors.New("docache: malformed filter")
	// ErrUnsupportedOperator reports an operator the target cannot evaluate.
	ErrUnsupportedOperator = errors.New("docache: unsupported operator")
	// ErrUnknownField reports a field that is not a column of a typed table.
	ErrUnknownField = errors.New("docache: unknown field")
)

const (
	OpEq  = "$eq"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpLt  = "$lt"
	OpLte = "$lte"
	OpNe  = "$ne"
	OpIn  = "$in"
	OpNin = "$nin"
)

var comparators = map[string]string{
	OpEq:  "=",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// opOrder fixes the emission order of operators sharing one field.
var opOrder = []string{OpEq, OpGt, OpGte, OpLt, OpLte, OpNe, OpIn, OpNin}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name is safe to splice into SQL as an identifier
// or JSON key.
func ValidIdent(name string) bool { return identRe.MatchString(name) }

// Kind is the storage kind of a typed column.
type Kind int

const (
	Text Kind = iota
	Integer
	Real
	JSON
)

// Schema describes what a filter is translated against.
type Schema struct {
	// Fallback selects the schemaless JSON table; Columns is ignored.
	Fallback bool
	// DataColumn is the JSON column holding documents of a fallback table.
	DataColumn string
	// Columns are the typed table's columns by name.
	Columns map[string]Kind
}

// Dialect renders the SQL fragments that differ between backends.
type Dialect interface {
	Placeholder(n int) string
	// JSONField renders text extraction of key from a JSON column.
	JSONField(column, key string) string
	// JSONEqual compares a JSON column with the JSON text bound at
	// placeholder n, by value rather than by spelling where the backend can.
	JSONEqual(column string, n int) string
}

// Clause is a rendered WHERE fragment without the WHERE keyword.
type Clause struct {
	SQL  string
	Args []any
	// Next is the next free placeholder index.
	Next int
}

// Empty reports whether the clause matches all rows.
func (c Clause) Empty() bool { return c.SQL == "" }

// Literals returns the equality fields of f, skipping operator objects.
// Upserts seed new documents from it.
func Literals(f Filter) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		if _, isOp := asOp(v); isOp {
			continue
		}
		out[k] = v
	}
	return out
}
