package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/unkn0wn-root/docache/filter"
)

// InsertOne stores doc and returns its id. A non-empty string "id" in doc is
// used as the id; otherwise one is generated. Typed collections reject keys
// that are not columns of their table.
func (s *Store) InsertOne(ctx context.Context, c Collection, doc map[string]any) (string, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return "", wrap("insert_one", c, err)
	}
	id, err := s.insert(ctx, db, tg, doc)
	return id, wrap("insert_one", c, err)
}

func (s *Store) insert(ctx context.Context, db DBTX, tg target, doc map[string]any) (string, error) {
	if len(doc) == 0 {
		return "", ErrEmptyDocument
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = s.newID()
	}

	if tg.fallback() {
		data, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		now := s.now().UnixMilli()
		q := "INSERT INTO " + FallbackTable + " (id, collection, data, created_at, updated_at) VALUES (" +
			tg.d.Placeholder(1) + ", " + tg.d.Placeholder(2) + ", " + tg.d.JSONParam(3) + ", " +
			tg.d.Placeholder(4) + ", " + tg.d.Placeholder(5) + ")"
		if _, err := db.ExecContext(ctx, q, id, string(tg.coll), string(data), now, now); err != nil {
			return "", err
		}
		return id, nil
	}

	cols := []string{"id"}
	phs := []string{tg.d.Placeholder(1)}
	args := []any{id}
	for _, k := range sortedKeys(doc) {
		if k == "id" {
			continue
		}
		v, ph, err := tg.bindColumn(k, doc[k], len(args)+1)
		if err != nil {
			return "", err
		}
		cols = append(cols, k)
		phs = append(phs, ph)
		args = append(args, v)
	}
	q := "INSERT INTO " + tg.t.name + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(phs, ", ") + ")"
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		return "", err
	}
	return id, nil
}

// bindColumn converts v for column col of a typed table and renders its
// placeholder n.
func (tg target) bindColumn(col string, v any, n int) (any, string, error) {
	if !filter.ValidIdent(col) {
		return nil, "", fmt.Errorf("%w: invalid field name %q", filter.ErrMalformedFilter, col)
	}
	k, ok := tg.t.byName[col]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", filter.ErrUnknownField, col)
	}
	arg, err := bindValue(k, v)
	if err != nil {
		return nil, "", fmt.Errorf("column %s: %w", col, err)
	}
	if k == filter.JSON {
		return arg, tg.d.JSONParam(n), nil
	}
	return arg, tg.d.Placeholder(n), nil
}

// row is a located record: its primary key plus, for the fallback table or
// when asked for, its JSON payload.
type row struct {
	id   string
	data map[string]any
}

// locate finds the first row matching f. jsonCol names a JSON column of a
// typed table to read alongside the id.
func (tg target) locate(ctx context.Context, db DBTX, f filter.Filter, jsonCol string) (*row, error) {
	where, args, _, err := tg.where(f, 1)
	if err != nil {
		return nil, err
	}
	var (
		r    row
		text sql.NullString
		dest = []any{&r.id}
		sel  = "id"
	)
	switch {
	case tg.fallback():
		sel += ", " + tg.d.JSONText("data")
		dest = append(dest, &text)
	case jsonCol != "":
		sel += ", " + tg.d.JSONText(jsonCol)
		dest = append(dest, &text)
	}
	q := "SELECT " + sel + " FROM " + tg.name() + where + " LIMIT 1"
	if err := db.QueryRowContext(ctx, q, args...).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.data = map[string]any{}
	if text.Valid && text.String != "" && text.String != "null" {
		v, err := decodeJSON([]byte(text.String))
		if err != nil {
			return nil, err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected JSON object, got %T", v)
		}
		r.data = m
	}
	return &r, nil
}

// UpdateOne applies patch to the first record matching f and reports true.
// With no match and upsert set, it inserts the equality fields of f merged
// with patch (patch wins) and reports true. Otherwise it reports false.
func (s *Store) UpdateOne(ctx context.Context, c Collection, f filter.Filter, patch map[string]any, upsert bool) (bool, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return false, wrap("update_one", c, err)
	}
	ok, err := s.updateOne(ctx, db, tg, f, patch, upsert)
	return ok, wrap("update_one", c, err)
}

func (s *Store) updateOne(ctx context.Context, db DBTX, tg target, f filter.Filter, patch map[string]any, upsert bool) (bool, error) {
	r, err := tg.locate(ctx, db, f, "")
	if err != nil {
		return false, err
	}
	if r == nil {
		if !upsert {
			return false, nil
		}
		doc := filter.Literals(f)
		maps.Copy(doc, patch)
		if _, err := s.insert(ctx, db, tg, doc); err != nil {
			return false, err
		}
		return true, nil
	}

	if tg.fallback() {
		maps.Copy(r.data, patch)
		return s.writeData(ctx, db, tg, r)
	}
	if len(patch) == 0 {
		return true, nil
	}
	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+1)
	for _, k := range sortedKeys(patch) {
		v, ph, err := tg.bindColumn(k, patch[k], len(args)+1)
		if err != nil {
			return false, err
		}
		sets = append(sets, k+" = "+ph)
		args = append(args, v)
	}
	args = append(args, r.id)
	q := "UPDATE " + tg.t.name + " SET " + strings.Join(sets, ", ") + " WHERE id = " + tg.d.Placeholder(len(args))
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// writeData replaces the document of a located fallback row.
func (s *Store) writeData(ctx context.Context, db DBTX, tg target, r *row) (bool, error) {
	data, err := json.Marshal(r.data)
	if err != nil {
		return false, err
	}
	q := "UPDATE " + FallbackTable + " SET data = " + tg.d.JSONParam(1) +
		", updated_at = " + tg.d.Placeholder(2) + " WHERE id = " + tg.d.Placeholder(3)
	res, err := db.ExecContext(ctx, q, string(data), s.now().UnixMilli(), r.id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteOne removes the first record matching f.
func (s *Store) DeleteOne(ctx context.Context, c Collection, f filter.Filter) (bool, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return false, wrap("delete_one", c, err)
	}
	where, args, _, err := tg.where(f, 1)
	if err != nil {
		return false, wrap("delete_one", c, err)
	}
	q := "DELETE FROM " + tg.name() + " WHERE id IN (SELECT id FROM " + tg.name() + where + " LIMIT 1)"
	n, err := exec(ctx, db, q, args)
	return n > 0, wrap("delete_one", c, err)
}

// DeleteMany removes every record matching f and returns the count.
func (s *Store) DeleteMany(ctx context.Context, c Collection, f filter.Filter) (int64, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return 0, wrap("delete_many", c, err)
	}
	where, args, _, err := tg.where(f, 1)
	if err != nil {
		return 0, wrap("delete_many", c, err)
	}
	n, err := exec(ctx, db, "DELETE FROM "+tg.name()+where, args)
	return n, wrap("delete_many", c, err)
}

func exec(ctx context.Context, db DBTX, q string, args []any) (int64, error) {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
