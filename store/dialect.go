package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/unkn0wn-root/docache/filter"
)

// Dialect captures the SQL differences between supported backends.
type Dialect interface {
	filter.Dialect

	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// JSONType is the column type for JSON documents.
	JSONType() string
	// JSONText renders a JSON column as text for scanning.
	JSONText(column string) string
	// JSONParam renders a placeholder bound to JSON text.
	JSONParam(n int) string
	// JSONSort renders an ORDER BY expression over a JSON key.
	JSONSort(column, key string) string
	// Migrations are re-run on every boot; each may fail independently.
	Migrations() []string
}

// DialectByName resolves "postgres" (aliases "postgresql", "pgx") or "sqlite".
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("docache: unknown dialect %q", name)
	}
}

// Postgres targets PostgreSQL through pgx's database/sql driver.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) DriverName() string       { return "pgx" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Postgres) JSONType() string         { return "JSONB" }
func (Postgres) JSONText(column string) string {
	return column + "::text"
}
func (Postgres) JSONParam(n int) string { return "$" + strconv.Itoa(n) + "::jsonb" }
func (Postgres) JSONEqual(column string, n int) string {
	return column + " = $" + strconv.Itoa(n) + "::jsonb"
}
func (Postgres) JSONField(column, key string) string {
	return column + "->>'" + key + "'"
}

// JSONSort orders by the jsonb value itself so numbers sort numerically.
func (Postgres) JSONSort(column, key string) string {
	return column + "->'" + key + "'"
}

func (Postgres) Migrations() []string {
	return []string{
		`ALTER TABLE reputation ADD COLUMN IF NOT EXISTS guild_id TEXT`,
		`ALTER TABLE reputation ADD COLUMN IF NOT EXISTS updated_at BIGINT`,
		`ALTER TABLE reputation ALTER COLUMN points TYPE BIGINT USING points::bigint`,
		`ALTER TABLE tickets ADD COLUMN IF NOT EXISTS claimed_by TEXT`,
		`ALTER TABLE tickets ADD COLUMN IF NOT EXISTS closed_at BIGINT`,
		`ALTER TABLE middleman_stats ADD COLUMN IF NOT EXISTS rating DOUBLE PRECISION`,
		`ALTER TABLE middleman_stats ALTER COLUMN deals TYPE JSONB USING deals::jsonb`,
		`ALTER TABLE guild_settings ADD COLUMN IF NOT EXISTS log_channel_id TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_reputation_user ON reputation (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets (channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_generic_data_collection ON generic_data (collection)`,
	}
}

// SQLite targets modernc.org/sqlite. JSON is stored as TEXT and read with the
// ->> operator (SQLite 3.38+).
type SQLite struct{}

func (SQLite) Name() string             { return "sqlite" }
func (SQLite) DriverName() string       { return "sqlite" }
func (SQLite) Placeholder(n int) string { return "?" + strconv.Itoa(n) }
func (SQLite) JSONType() string         { return "TEXT" }
func (SQLite) JSONText(column string) string {
	return column
}
func (SQLite) JSONParam(n int) string { return "?" + strconv.Itoa(n) }

// JSONEqual minifies both sides. Object key order is compared as written;
// values written through the store always have sorted keys.
func (SQLite) JSONEqual(column string, n int) string {
	return "json(" + column + ") = json(?" + strconv.Itoa(n) + ")"
}

// JSONField casts because SQLite's ->> yields native numbers, which never
// equal a text parameter. Booleans come back as 1/0 and are spelled out.
func (SQLite) JSONField(column, key string) string {
	path := "'$." + key + "'"
	return "(CASE json_type(" + column + ", " + path + ")" +
		" WHEN 'true' THEN 'true' WHEN 'false' THEN 'false'" +
		" ELSE CAST(" + column + "->>'" + key + "' AS TEXT) END)"
}
func (SQLite) JSONSort(column, key string) string {
	return column + "->>'" + key + "'"
}

// Migrations without IF NOT EXISTS fail harmlessly once applied.
func (SQLite) Migrations() []string {
	return []string{
		`ALTER TABLE reputation ADD COLUMN guild_id TEXT`,
		`ALTER TABLE reputation ADD COLUMN updated_at BIGINT`,
		`ALTER TABLE tickets ADD COLUMN claimed_by TEXT`,
		`ALTER TABLE tickets ADD COLUMN closed_at BIGINT`,
		`ALTER TABLE middleman_stats ADD COLUMN rating DOUBLE PRECISION`,
		`ALTER TABLE guild_settings ADD COLUMN log_channel_id TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_reputation_user ON reputation (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets (channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_generic_data_collection ON generic_data (collection)`,
	}
}
