package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/unkn0wn-root/docache/filter"
)

// Record is one document. Typed rows carry every column of their table; NULL
// columns are present with a nil value.
type Record map[string]any

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out, _ := Normalize(map[string]any(r)).(map[string]any)
	return out
}

// Normalize rewrites decoded values into the canonical shapes records use:
// integers become int64, other numbers float64, maps map[string]any and
// slices []any. Codecs call it so that a cached record compares equal to the
// record read from storage.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return uintToInt(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return uintToInt(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	case Record:
		return Normalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	// Anything else goes through JSON once.
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	d, err := decodeJSON(b)
	if err != nil {
		return v
	}
	return d
}

// NormalizeRecord applies Normalize to every value of r.
func NormalizeRecord(r map[string]any) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}

func uintToInt(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// toInt64 coerces a stored or supplied numeric value. nil counts as zero.
func toInt64(v any) (int64, error) {
	switch t := Normalize(v).(type) {
	case nil:
		return 0, nil
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: %v has a fraction", ErrNotNumeric, t)
		}
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		d, err := decodeJSON([]byte(strings.TrimSpace(t)))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, t)
		}
		if _, ok := d.(string); ok {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, t)
		}
		return toInt64(d)
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}

// bindValue converts v into an argument for a column of kind k.
func bindValue(k filter.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case filter.JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case filter.Integer:
		if _, ok := v.(string); ok {
			return v, nil
		}
		return toInt64(v)
	case filter.Real:
		switch t := Normalize(v).(type) {
		case int64:
			return float64(t), nil
		case float64:
			return t, nil
		case string:
			return t, nil
		default:
			return nil, fmt.Errorf("%w: %T", ErrNotNumeric, v)
		}
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return filter.Stringify(v), nil
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTyped(t *table, rs rowScanner) (Record, error) {
	dest := make([]any, 0, len(t.columns)+1)
	var id sql.NullString
	dest = append(dest, &id)
	for _, c := range t.columns {
		switch c.kind {
		case filter.Integer:
			dest = append(dest, new(sql.NullInt64))
		case filter.Real:
			dest = append(dest, new(sql.NullFloat64))
		default:
			dest = append(dest, new(sql.NullString))
		}
	}
	if err := rs.Scan(dest...); err != nil {
		return nil, err
	}

	rec := make(Record, len(t.columns)+1)
	rec["id"] = id.String
	for i, c := range t.columns {
		switch d := dest[i+1].(type) {
		case *sql.NullInt64:
			if d.Valid {
				rec[c.name] = d.Int64
			} else {
				rec[c.name] = nil
			}
		case *sql.NullFloat64:
			if d.Valid {
				rec[c.name] = d.Float64
			} else {
				rec[c.name] = nil
			}
		case *sql.NullString:
			switch {
			case !d.Valid:
				rec[c.name] = nil
			case c.kind == filter.JSON:
				v, err := decodeJSON([]byte(d.String))
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", c.name, err)
				}
				rec[c.name] = v
			default:
				rec[c.name] = d.String
			}
		}
	}
	return rec, nil
}

func scanFallback(rs rowScanner) (Record, error) {
	var (
		id   string
		data sql.NullString
	)
	if err := rs.Scan(&id, &data); err != nil {
		return nil, err
	}
	rec := Record{}
	if data.Valid && data.String != "" {
		v, err := decodeJSON([]byte(data.String))
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("data: expected object, got %T", v)
		}
		rec = Record(m)
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = id
	}
	return rec, nil
}
