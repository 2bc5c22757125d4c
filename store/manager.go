package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	dlog "github.com/unkn0wn-root/docache/log"
)

// DBTX is the subset of *sql.DB the store issues statements through.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn hands out the live handle and its dialect.
type Conn interface {
	DB() (DBTX, error)
	Dialect() Dialect
}

// Config describes how to reach the backend.
type Config struct {
	Dialect         string        // "postgres" or "sqlite"; "" => postgres
	DSN             string        // empty => Connect reports not connected
	MaxOpenConns    int           // 0 => 10 (1 for in-memory SQLite)
	MaxIdleConns    int           // 0 => 2
	ConnMaxLifetime time.Duration // 0 => 30m (unbounded for in-memory SQLite)
	ConnectTimeout  time.Duration // 0 => 5s
}

type Option func(*Manager)

func WithLogger(l dlog.Logger) Option {
	return func(m *Manager) { m.log = dlog.OrNop(l) }
}

// WithMigrations replaces the dialect's migration list.
func WithMigrations(stmts []string) Option {
	return func(m *Manager) { m.migrations = append([]string(nil), stmts...) }
}

var errNoDSN = errors.New("docache: no connection string configured")

// Manager owns the connection pool. It is safe for concurrent use.
type Manager struct {
	cfg        Config
	dialect    Dialect
	migrations []string
	log        dlog.Logger

	mu           sync.RWMutex
	db           *sql.DB
	connected    bool
	bootstrapped bool
	lastErr      error
}

// NewManager validates cfg without connecting.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	d, err := DialectByName(coalesce(cfg.Dialect, "postgres"))
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		dialect:    d,
		migrations: d.Migrations(),
		log:        dlog.NopLogger{},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Connect opens and probes the pool, bootstrapping the schema on the first
// success. An in-memory SQLite database is bootstrapped again after each
// Disconnect. It never panics or returns an error: failures are logged and
// reported as false, with the cause available from Err.
func (m *Manager) Connect(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return true
	}
	if err := m.connectLocked(ctx); err != nil {
		m.lastErr = err
		m.log.Error("storage connect failed", dlog.Fields{"dialect": m.dialect.Name(), "err": err})
		return false
	}
	m.lastErr = nil
	m.connected = true
	m.log.Info("storage connected", dlog.Fields{"dialect": m.dialect.Name()})
	return true
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if strings.TrimSpace(m.cfg.DSN) == "" {
		return errNoDSN
	}
	db, err := sql.Open(m.dialect.DriverName(), m.cfg.DSN)
	if err != nil {
		return err
	}
	m.tune(db)

	pctx, cancel := context.WithTimeout(ctx, coalesce(m.cfg.ConnectTimeout, 5*time.Second))
	defer cancel()
	var one int
	if err := db.QueryRowContext(pctx, "SELECT 1").Scan(&one); err != nil {
		_ = db.Close()
		return err
	}

	if !m.bootstrapped {
		if err := bootstrap(ctx, db, m.dialect, m.migrations, m.log); err != nil {
			_ = db.Close()
			return err
		}
		m.bootstrapped = true
	}
	m.db = db
	return nil
}

func (m *Manager) tune(db *sql.DB) {
	maxOpen := coalesce(m.cfg.MaxOpenConns, 10)
	lifetime := coalesce(m.cfg.ConnMaxLifetime, 30*time.Minute)
	if m.inMemory() {
		// every connection to :memory: is a separate database
		maxOpen = 1
		lifetime = 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(coalesce(m.cfg.MaxIdleConns, 2), maxOpen))
	db.SetConnMaxLifetime(lifetime)
}

func (m *Manager) inMemory() bool {
	if m.dialect.Name() != "sqlite" {
		return false
	}
	return strings.Contains(m.cfg.DSN, ":memory:") || strings.Contains(m.cfg.DSN, "mode=memory")
}

// IsConnected reports the current state without touching the backend.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Err returns the cause of the last failed Connect.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Disconnect closes the pool. Calling it when not connected is a no-op.
func (m *Manager) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.connected = false
	if m.inMemory() {
		// the database went away with the pool
		m.bootstrapped = false
	}
	m.log.Info("storage disconnected", nil)
	return err
}

// DB returns the live pool or ErrNotConnected.
func (m *Manager) DB() (DBTX, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.db, nil
}

func (m *Manager) Dialect() Dialect { return m.dialect }

// Migrate re-runs the migration pass and returns how many steps succeeded.
func (m *Manager) Migrate(ctx context.Context) (ok, total int, err error) {
	db, err := m.DB()
	if err != nil {
		return 0, len(m.migrations), err
	}
	return migrate(ctx, db, m.migrations, m.log), len(m.migrations), nil
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
