package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Translate renders f against schema s. Placeholders are numbered from start
// (1 when start < 1) so the clause can follow parameters of the enclosing
// statement, e.g. an UPDATE's SET list. An empty filter yields an empty clause.
// Fields are emitted in sorted order.
func Translate(f Filter, s Schema, d Dialect, start int) (Clause, error) {
	if start < 1 {
		start = 1
	}
	b := &builder{d: d, next: start}
	if len(f) == 0 {
		return Clause{Next: start}, nil
	}

	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		if !ValidIdent(field) {
			return Clause{}, fmt.Errorf("%w: invalid field name %q", ErrMalformedFilter, field)
		}
		var (
			frag string
			err  error
		)
		if s.Fallback {
			frag, err = b.fallback(field, f[field], s)
		} else {
			frag, err = b.typed(field, f[field], s)
		}
		if err != nil {
			return Clause{}, err
		}
		parts = append(parts, frag)
	}
	return Clause{SQL: strings.Join(parts, " AND "), Args: b.args, Next: b.next}, nil
}

type builder struct {
	d    Dialect
	next int
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	ph := b.d.Placeholder(b.next)
	b.next++
	return ph
}

func (b *builder) jsonEqual(col string, v any) (string, error) {
	text, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: value for JSON column %q: %v", ErrMalformedFilter, col, err)
	}
	b.args = append(b.args, string(text))
	frag := b.d.JSONEqual(col, b.next)
	b.next++
	return frag, nil
}

func (b *builder) bindList(vals []any) string {
	phs := make([]string, len(vals))
	for i, v := range vals {
		phs[i] = b.bind(v)
	}
	return strings.Join(phs, ", ")
}

func (b *builder) typed(col string, v any, s Schema) (string, error) {
	kind, ok := s.Columns[col]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, col)
	}
	op, isOp := asOp(v)
	if !isOp {
		if v == nil {
			return col + " IS NULL", nil
		}
		if kind == JSON {
			return b.jsonEqual(col, v)
		}
		return col + " = " + b.bind(columnValue(v)), nil
	}
	if err := checkOps(op); err != nil {
		return "", err
	}
	if kind == JSON {
		return "", fmt.Errorf("%w: operators on JSON column %q", ErrUnsupportedOperator, col)
	}

	var frags []string
	for _, name := range opOrder {
		arg, present := op[name]
		if !present {
			continue
		}
		switch name {
		case OpEq, OpGt, OpGte, OpLt, OpLte:
			if arg == nil {
				if name != OpEq {
					return "", fmt.Errorf("%w: %s null on %q", ErrMalformedFilter, name, col)
				}
				frags = append(frags, col+" IS NULL")
				continue
			}
			frags = append(frags, col+" "+comparators[name]+" "+b.bind(columnValue(arg)))
		case OpNe:
			if arg == nil {
				frags = append(frags, col+" IS NOT NULL")
				continue
			}
			frags = append(frags, "("+col+" <> "+b.bind(columnValue(arg))+" OR "+col+" IS NULL)")
		case OpIn, OpNin:
			vals, err := sliceValues(name, arg)
			if err != nil {
				return "", err
			}
			for i := range vals {
				vals[i] = columnValue(vals[i])
			}
			switch {
			case len(vals) == 0 && name == OpIn:
				frags = append(frags, "1=0")
			case len(vals) == 0:
				frags = append(frags, "1=1")
			case name == OpIn:
				frags = append(frags, col+" IN ("+b.bindList(vals)+")")
			default:
				frags = append(frags, "("+col+" NOT IN ("+b.bindList(vals)+") OR "+col+" IS NULL)")
			}
		}
	}
	if len(frags) == 1 {
		return frags[0], nil
	}
	return "(" + strings.Join(frags, " AND ") + ")", nil
}

func (b *builder) fallback(field string, v any, s Schema) (string, error) {
	if _, isOp := asOp(v); isOp {
		return "", fmt.Errorf("%w: schemaless fields only support equality (field %q)", ErrUnsupportedOperator, field)
	}
	expr := b.d.JSONField(s.DataColumn, field)
	if v == nil {
		return expr + " IS NULL", nil
	}
	return expr + " = " + b.bind(Stringify(v)), nil
}

// asOp reports whether v is an operator object: a map with at least one
// "$"-prefixed key.
func asOp(v any) (map[string]any, bool) {
	var m map[string]any
	switch t := v.(type) {
	case Op:
		m = t
	case map[string]any:
		m = t
	default:
		return nil, false
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return m, true
		}
	}
	return nil, false
}

func checkOps(op map[string]any) error {
	for k := range op {
		if _, ok := comparators[k]; ok {
			continue
		}
		switch k {
		case OpNe, OpIn, OpNin:
			continue
		}
		return fmt.Errorf("%w: unknown operator %q", ErrMalformedFilter, k)
	}
	return nil
}

// sliceValues flattens a $in/$nin argument, preserving order.
func sliceValues(op string, arg any) ([]any, error) {
	if arg == nil {
		return nil, fmt.Errorf("%w: %s expects an array, got null", ErrMalformedFilter, op)
	}
	if vals, ok := arg.([]any); ok {
		return append([]any(nil), vals...), nil
	}
	rv := reflect.ValueOf(arg)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("%w: %s expects an array, got %T", ErrMalformedFilter, op, arg)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// columnValue passes scalars through and renders composite values as JSON
// text so they bind as one opaque parameter.
func columnValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return v
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

// Stringify renders v the way a JSON text accessor (->>) renders the stored
// value, so schemaless equality compares like with like. Objects and arrays
// use compact JSON, which may differ from the backend's own rendering.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
