// Package store is a document-style CRUD API over a relational backend.
//
// Known collections live in typed tables with native columns. Every other
// collection shares the generic_data table as (collection, JSON document)
// rows; filters against it only support equality.
//
// Multi-statement operations are not wrapped in transactions. UpdateOne with
// upsert and the create path of Increment check for a row and then insert, so
// two concurrent callers can both insert. Fallback Increment and
// UpdateJSONField read, modify and write back the document and can lose an
// update under concurrency. Typed Increment against an existing row is a
// single UPDATE and does not.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/docache/filter"
	dlog "github.com/unkn0wn-root/docache/log"
)

// SortOrder is the direction of FindManySorted.
type SortOrder string

const (
	Asc  SortOrder = "ASC"
	Desc SortOrder = "DESC"
)

// ParseSortOrder accepts "asc"/"desc" in any case, and 1/-1 style "1"/"-1".
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASC", "1":
		return Asc, nil
	case "DESC", "-1":
		return Desc, nil
	}
	return "", fmt.Errorf("%w: direction %q", ErrInvalidSort, s)
}

// Store runs document operations through a Conn.
type Store struct {
	conn  Conn
	log   dlog.Logger
	now   func() time.Time
	newID func() string
}

type StoreOption func(*Store)

func WithStoreLogger(l dlog.Logger) StoreOption {
	return func(s *Store) { s.log = dlog.OrNop(l) }
}

// WithClock sets the time source for generic_data timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for new row ids.
func WithIDGenerator(f func() string) StoreOption {
	return func(s *Store) { s.newID = f }
}

func New(conn Conn, opts ...StoreOption) *Store {
	s := &Store{
		conn:  conn,
		log:   dlog.NopLogger{},
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// target is the resolved storage of one collection.
type target struct {
	coll Collection
	t    *table // nil => fallback
	d    Dialect
}

func (s *Store) resolve(c Collection) (DBTX, target, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, target{}, err
	}
	return db, target{coll: c, t: c.table(), d: s.conn.Dialect()}, nil
}

func (tg target) fallback() bool { return tg.t == nil }

func (tg target) name() string {
	if tg.t != nil {
		return tg.t.name
	}
	return FallbackTable
}

func (tg target) selectList() string {
	if tg.fallback() {
		return "id, " + tg.d.JSONText("data")
	}
	cols := make([]string, 0, len(tg.t.columns)+1)
	cols = append(cols, "id")
	for _, c := range tg.t.columns {
		if c.kind == filter.JSON {
			cols = append(cols, tg.d.JSONText(c.name))
			continue
		}
		cols = append(cols, c.name)
	}
	return strings.Join(cols, ", ")
}

// where renders " WHERE ..." for f, numbering placeholders from start. The
// fallback table is always scoped to its collection.
func (tg target) where(f filter.Filter, start int) (string, []any, int, error) {
	if tg.fallback() {
		scope := "collection = " + tg.d.Placeholder(start)
		cl, err := filter.Translate(f, filter.Schema{Fallback: true, DataColumn: "data"}, tg.d, start+1)
		if err != nil {
			return "", nil, 0, err
		}
		args := append([]any{string(tg.coll)}, cl.Args...)
		if cl.Empty() {
			return " WHERE " + scope, args, cl.Next, nil
		}
		return " WHERE " + scope + " AND " + cl.SQL, args, cl.Next, nil
	}
	cl, err := filter.Translate(f, tg.t.schema(), tg.d, start)
	if err != nil {
		return "", nil, 0, err
	}
	if cl.Empty() {
		return "", nil, cl.Next, nil
	}
	return " WHERE " + cl.SQL, cl.Args, cl.Next, nil
}

func (tg target) scan(rs rowScanner) (Record, error) {
	if tg.fallback() {
		return scanFallback(rs)
	}
	return scanTyped(tg.t, rs)
}

// FindOne returns the first matching record, or nil when none matches.
func (s *Store) FindOne(ctx context.Context, c Collection, f filter.Filter) (Record, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return nil, wrap("find_one", c, err)
	}
	rec, err := s.findOne(ctx, db, tg, f)
	return rec, wrap("find_one", c, err)
}

func (s *Store) findOne(ctx context.Context, db DBTX, tg target, f filter.Filter) (Record, error) {
	where, args, _, err := tg.where(f, 1)
	if err != nil {
		return nil, err
	}
	q := "SELECT " + tg.selectList() + " FROM " + tg.name() + where + " LIMIT 1"
	rec, err := tg.scan(db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindMany returns every matching record in storage order.
func (s *Store) FindMany(ctx context.Context, c Collection, f filter.Filter) ([]Record, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return nil, wrap("find_many", c, err)
	}
	where, args, _, err := tg.where(f, 1)
	if err != nil {
		return nil, wrap("find_many", c, err)
	}
	q := "SELECT " + tg.selectList() + " FROM " + tg.name() + where
	out, err := s.query(ctx, db, tg, q, args)
	return out, wrap("find_many", c, err)
}

// FindManySorted is FindMany ordered by field. On the fallback table field is
// a key of the JSON document; rows without it sort as NULL, and values are
// compared as the backend orders JSON (SQLite compares the extracted value).
func (s *Store) FindManySorted(ctx context.Context, c Collection, f filter.Filter, field string, dir SortOrder) ([]Record, error) {
	db, tg, err := s.resolve(c)
	if err != nil {
		return nil, wrap("find_many_sorted", c, err)
	}
	order, err := tg.orderBy(field, dir)
	if err != nil {
		return nil, wrap("find_many_sorted", c, err)
	}
	where, args, _, err := tg.where(f, 1)
	if err != nil {
		return nil, wrap("find_many_sorted", c, err)
	}
	q := "SELECT " + tg.selectList() + " FROM " + tg.name() + where + " ORDER BY " + order
	out, err := s.query(ctx, db, tg, q, args)
	return out, wrap("find_many_sorted", c, err)
}

func (tg target) orderBy(field string, dir SortOrder) (string, error) {
	if dir != Asc && dir != Desc {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidSort, dir)
	}
	if !filter.ValidIdent(field) {
		return "", fmt.Errorf("%w: field %q", ErrInvalidSort, field)
	}
	if tg.fallback() {
		return tg.d.JSONSort("data", field) + " " + string(dir), nil
	}
	k, ok := tg.t.byName[field]
	if !ok {
		return "", fmt.Errorf("%w: %w %q", ErrInvalidSort, filter.ErrUnknownField, field)
	}
	if k == filter.JSON {
		return "", fmt.Errorf("%w: JSON column %q", ErrInvalidSort, field)
	}
	return field + " " + string(dir), nil
}

func (s *Store) query(ctx context.Context, db DBTX, tg target, q string, args []any) ([]Record, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := tg.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
