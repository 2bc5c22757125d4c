package store

import (
	"context"
	"strings"

	"github.com/unkn0wn-root/docache/filter"
	dlog "github.com/unkn0wn-root/docache/log"
)

func columnType(d Dialect, k filter.Kind) string {
	switch k {
	case filter.Integer:
		return "BIGINT"
	case filter.Real:
		return "DOUBLE PRECISION"
	case filter.JSON:
		return d.JSONType()
	default:
		return "TEXT"
	}
}

func createTableSQL(d Dialect, t *table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(t.name)
	b.WriteString(" (id TEXT PRIMARY KEY")
	for _, c := range t.columns {
		b.WriteString(", ")
		b.WriteString(c.name)
		b.WriteByte(' ')
		b.WriteString(columnType(d, c.kind))
	}
	b.WriteString(")")
	return b.String()
}

func createFallbackSQL(d Dialect) string {
	return "CREATE TABLE IF NOT EXISTS " + FallbackTable + " (" +
		"id TEXT PRIMARY KEY, " +
		"collection TEXT NOT NULL, " +
		"data " + d.JSONType() + " NOT NULL, " +
		"created_at BIGINT, " +
		"updated_at BIGINT)"
}

// bootstrap creates every table, then runs the migration pass. Table creation
// failures abort; migration failures do not.
func bootstrap(ctx context.Context, db DBTX, d Dialect, migrations []string, logger dlog.Logger) error {
	stmts := make([]string, 0, len(typedTables)+1)
	for _, t := range typedTables {
		stmts = append(stmts, createTableSQL(d, t))
	}
	stmts = append(stmts, createFallbackSQL(d))
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	migrate(ctx, db, migrations, logger)
	return nil
}

// migrate runs each statement on its own. It returns how many succeeded.
func migrate(ctx context.Context, db DBTX, migrations []string, logger dlog.Logger) int {
	ok := 0
	for i, s := range migrations {
		if _, err := db.ExecContext(ctx, s); err != nil {
			logger.Warn("migration step failed", dlog.Fields{"step": i, "sql": s, "err": err})
			continue
		}
		ok++
	}
	logger.Debug("migrations applied", dlog.Fields{"ok": ok, "total": len(migrations)})
	return ok
}
