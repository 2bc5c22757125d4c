package store

import (
	"context"
	"fmt"
	"maps"

	"github.com/unkn0wn-root/docache/filter"
)

// Increment adds amount to field of the first record matching f, treating a
// missing value as 0. With no match it inserts the equality fields of f plus
// field = amount.
func (s *Store) Increment(ctx context.Context, c Collection, f filter.Filter, field string, amount int64) error {
	db, tg, err := s.resolve(c)
	if err != nil {
		return wrap("increment", c, err)
	}
	if !filter.ValidIdent(field) {
		return wrap("increment", c, fmt.Errorf("%w: invalid field name %q", filter.ErrMalformedFilter, field))
	}
	if tg.fallback() {
		return wrap("increment", c, s.incrementDoc(ctx, db, tg, f, field, amount))
	}
	return wrap("increment", c, s.incrementColumn(ctx, db, tg, f, field, amount))
}

// incrementColumn updates an existing row in one statement.
func (s *Store) incrementColumn(ctx context.Context, db DBTX, tg target, f filter.Filter, field string, amount int64) error {
	k, ok := tg.t.byName[field]
	if !ok {
		return fmt.Errorf("%w: %q", filter.ErrUnknownField, field)
	}
	if k != filter.Integer && k != filter.Real {
		return fmt.Errorf("%w: column %q", ErrNotNumeric, field)
	}
	where, args, _, err := tg.where(f, 2)
	if err != nil {
		return err
	}
	q := "UPDATE " + tg.t.name + " SET " + field + " = COALESCE(" + field + ", 0) + " + tg.d.Placeholder(1) +
		" WHERE id IN (SELECT id FROM " + tg.t.name + where + " LIMIT 1)"
	n, err := exec(ctx, db, q, append([]any{amount}, args...))
	if err != nil || n > 0 {
		return err
	}
	doc := filter.Literals(f)
	doc[field] = amount
	_, err = s.insert(ctx, db, tg, doc)
	return err
}

func (s *Store) incrementDoc(ctx context.Context, db DBTX, tg target, f filter.Filter, field string, amount int64) error {
	r, err := tg.locate(ctx, db, f, "")
	if err != nil {
		return err
	}
	if r == nil {
		doc := filter.Literals(f)
		doc[field] = amount
		_, err := s.insert(ctx, db, tg, doc)
		return err
	}
	cur, err := toInt64(r.data[field])
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	r.data[field] = cur + amount
	_, err = s.writeData(ctx, db, tg, r)
	return err
}

// UpdateJSONField adds amount to key inside the JSON object stored in
// jsonField, creating the object or key as needed, and adds the same amount to
// the record's total. Typed tables keep total only when they have the column.
func (s *Store) UpdateJSONField(ctx context.Context, c Collection, f filter.Filter, jsonField, key string, amount int64) error {
	db, tg, err := s.resolve(c)
	if err != nil {
		return wrap("update_json_field", c, err)
	}
	if !filter.ValidIdent(jsonField) {
		return wrap("update_json_field", c, fmt.Errorf("%w: invalid field name %q", filter.ErrMalformedFilter, jsonField))
	}
	if tg.fallback() {
		return wrap("update_json_field", c, s.updateJSONDoc(ctx, db, tg, f, jsonField, key, amount))
	}
	return wrap("update_json_field", c, s.updateJSONColumn(ctx, db, tg, f, jsonField, key, amount))
}

func (s *Store) updateJSONColumn(ctx context.Context, db DBTX, tg target, f filter.Filter, jsonField, key string, amount int64) error {
	if k, ok := tg.t.byName[jsonField]; !ok {
		return fmt.Errorf("%w: %q", filter.ErrUnknownField, jsonField)
	} else if k != filter.JSON {
		return fmt.Errorf("%w: column %q is not JSON", filter.ErrUnsupportedOperator, jsonField)
	}
	withTotal := tg.t.has("total")

	r, err := tg.locate(ctx, db, f, jsonField)
	if err != nil {
		return err
	}
	if r == nil {
		doc := filter.Literals(f)
		doc[jsonField] = map[string]any{key: amount}
		if withTotal {
			doc["total"] = amount
		}
		_, err := s.insert(ctx, db, tg, doc)
		return err
	}

	obj, err := bump(r.data, key, amount)
	if err != nil {
		return err
	}
	arg, ph, err := tg.bindColumn(jsonField, obj, 1)
	if err != nil {
		return err
	}
	set := jsonField + " = " + ph
	args := []any{arg}
	if withTotal {
		set += ", total = COALESCE(total, 0) + " + tg.d.Placeholder(2)
		args = append(args, amount)
	}
	args = append(args, r.id)
	_, err = exec(ctx, db, "UPDATE "+tg.t.name+" SET "+set+" WHERE id = "+tg.d.Placeholder(len(args)), args)
	return err
}

func (s *Store) updateJSONDoc(ctx context.Context, db DBTX, tg target, f filter.Filter, jsonField, key string, amount int64) error {
	r, err := tg.locate(ctx, db, f, "")
	if err != nil {
		return err
	}
	if r == nil {
		doc := filter.Literals(f)
		doc[jsonField] = map[string]any{key: amount}
		doc["total"] = amount
		_, err := s.insert(ctx, db, tg, doc)
		return err
	}

	var sub map[string]any
	switch v := r.data[jsonField].(type) {
	case nil:
		sub = map[string]any{}
	case map[string]any:
		sub = v
	default:
		return fmt.Errorf("field %s: expected object, got %T", jsonField, v)
	}
	if r.data[jsonField], err = bump(sub, key, amount); err != nil {
		return err
	}
	total, err := toInt64(r.data["total"])
	if err != nil {
		return fmt.Errorf("field total: %w", err)
	}
	r.data["total"] = total + amount
	_, err = s.writeData(ctx, db, tg, r)
	return err
}

// bump returns a copy of obj with obj[key] increased by amount.
func bump(obj map[string]any, key string, amount int64) (map[string]any, error) {
	out := maps.Clone(obj)
	if out == nil {
		out = map[string]any{}
	}
	cur, err := toInt64(out[key])
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", key, err)
	}
	out[key] = cur + amount
	return out, nil
}
