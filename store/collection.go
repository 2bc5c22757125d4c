package store

import "github.com/unkn0wn-root/docache/filter"

// Collection names a logical record set.
type Collection string

// Collections with a dedicated typed table. Any other name is stored in the
// fallback table.
const (
	Reputation     Collection = "reputation"
	Tickets        Collection = "tickets"
	Warnings       Collection = "warnings"
	Quarantines    Collection = "quarantines"
	MiddlemanStats Collection = "middleman_stats"
	GuildSettings  Collection = "guild_settings"
)

// FallbackTable holds every collection without a typed table as
// (collection, data) rows.
const FallbackTable = "generic_data"

type column struct {
	name string
	kind filter.Kind
}

// table describes a typed table. id TEXT PRIMARY KEY is implicit.
type table struct {
	name    string
	columns []column
	byName  map[string]filter.Kind
}

func newTable(name string, cols ...column) *table {
	t := &table{name: name, columns: cols, byName: make(map[string]filter.Kind, len(cols)+1)}
	t.byName["id"] = filter.Text
	for _, c := range cols {
		t.byName[c.name] = c.kind
	}
	return t
}

func (t *table) schema() filter.Schema { return filter.Schema{Columns: t.byName} }

func (t *table) has(col string) bool {
	_, ok := t.byName[col]
	return ok
}

var (
	reputationTable = newTable("reputation",
		column{"user_id", filter.Text},
		column{"guild_id", filter.Text},
		column{"points", filter.Integer},
		column{"updated_at", filter.Integer},
	)
	ticketsTable = newTable("tickets",
		column{"channel_id", filter.Text},
		column{"guild_id", filter.Text},
		column{"user_id", filter.Text},
		column{"status", filter.Text},
		column{"claimed_by", filter.Text},
		column{"created_at", filter.Integer},
		column{"closed_at", filter.Integer},
	)
	warningsTable = newTable("warnings",
		column{"user_id", filter.Text},
		column{"guild_id", filter.Text},
		column{"moderator_id", filter.Text},
		column{"reason", filter.Text},
		column{"created_at", filter.Integer},
	)
	quarantinesTable = newTable("quarantines",
		column{"user_id", filter.Text},
		column{"guild_id", filter.Text},
		column{"reason", filter.Text},
		column{"roles", filter.JSON},
		column{"active", filter.Integer},
		column{"created_at", filter.Integer},
	)
	middlemanStatsTable = newTable("middleman_stats",
		column{"user_id", filter.Text},
		column{"guild_id", filter.Text},
		column{"deals", filter.JSON},
		column{"total", filter.Integer},
		column{"rating", filter.Real},
	)
	guildSettingsTable = newTable("guild_settings",
		column{"guild_id", filter.Text},
		column{"prefix", filter.Text},
		column{"log_channel_id", filter.Text},
		column{"settings", filter.JSON},
	)
)

// typedTables lists every typed table in bootstrap order.
var typedTables = []*table{
	reputationTable,
	ticketsTable,
	warningsTable,
	quarantinesTable,
	middlemanStatsTable,
	guildSettingsTable,
}

// table resolves c to its typed table, or nil for the fallback table.
// Adding a typed collection means adding a constant and an arm here.
func (c Collection) table() *table {
	switch c {
	case Reputation:
		return reputationTable
	case Tickets:
		return ticketsTable
	case Warnings:
		return warningsTable
	case Quarantines:
		return quarantinesTable
	case MiddlemanStats:
		return middlemanStatsTable
	case GuildSettings:
		return guildSettingsTable
	default:
		return nil
	}
}

// Typed reports whether c has a dedicated table.
func (c Collection) Typed() bool { return c.table() != nil }

// TableName returns the backing table of c.
func (c Collection) TableName() string {
	if t := c.table(); t != nil {
		return t.name
	}
	return FallbackTable
}
