package databases

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/databases/mysql"
	"github.com/melkeydev/treedb/databases/postgres"
	"github.com/melkeydev/treedb/databases/sqlite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultConnectionName is the connection whose opening also bootstraps the
// users table.
const DefaultConnectionName = "default_connection"

// UsersTableDDL is the baseline schema created for the default connection.
const UsersTableDDL = `CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	login TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Conn is one open, named handle.
type Conn struct {
	Name    string
	Kind    string
	Path    string
	DB      *sqlx.DB
	Dialect dialect.Dialect
}

// Registry maps connection names to open handles. Every component that
// touches the database looks its handle up here by name.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *zap.SugaredLogger
}

type Option func(*Registry)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[string]*Conn),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Logger returns the logger components built on this registry share.
func (r *Registry) Logger() *zap.SugaredLogger {
	return r.logger
}

// DialectFor returns the strategy for a backend kind.
func DialectFor(kind string) (dialect.Dialect, error) {
	switch kind {
	case dialect.SQLite, "sqlite3":
		return sqlite.New(), nil
	case dialect.MySQL:
		return mysql.New(), nil
	case dialect.Postgres, "postgresql":
		return postgres.New(), nil
	default:
		return nil, fmt.Errorf("unsupported Database type: %s", kind)
	}
}

// Open opens or creates the SQLite file at path under name.
func (r *Registry) Open(ctx context.Context, name, path string) error {
	return r.OpenBackend(ctx, name, dialect.SQLite, path)
}

// OpenBackend opens dsn with the given backend under name. A connection
// already registered under name is closed and replaced.
func (r *Registry) OpenBackend(ctx context.Context, name, kind, dsn string) error {
	if name == "" {
		return fmt.Errorf("connection name: %w", ErrEmpty)
	}

	d, err := DialectFor(kind)
	if err != nil {
		return err
	}

	db, err := d.Open(dsn)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	conn := &Conn{
		Name:    name,
		Kind:    d.Kind(),
		Path:    dsn,
		DB:      db,
		Dialect: d,
	}

	r.mu.Lock()
	old := r.conns[name]
	r.conns[name] = conn
	r.mu.Unlock()

	if old != nil {
		if err := old.DB.Close(); err != nil {
			r.logger.Warnw("failed to close replaced connection", "connection", name, "error", err)
		}
	}

	r.logger.Infow("connection opened", "connection", name, "backend", conn.Kind)

	if name == DefaultConnectionName {
		if _, err := db.ExecContext(ctx, UsersTableDDL); err != nil {
			r.logger.Warnw("error creating table users", "connection", name, "error", err)
		}
	}

	return nil
}

// Get returns the open connection registered under name.
func (r *Registry) Get(name string) (*Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w for connection '%s'", ErrNotOpen, name)
	}
	return conn, nil
}

func (r *Registry) IsOpen(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes and forgets the named connection. Unknown names are a no-op.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	delete(r.conns, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := conn.DB.Close(); err != nil {
		return fmt.Errorf("failed to close connection %s: %w", name, err)
	}
	r.logger.Infow("connection closed", "connection", name)
	return nil
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	var errs error
	for name, conn := range conns {
		if err := conn.DB.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close connection %s: %w", name, err))
		}
	}
	return errs
}
