package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/bft-labs/claimship/internal/ports"
	"github.com/bft-labs/claimship/pkg/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const dialect = "sqlite3"

// Store is the SQLite implementation of every entity store, the lease
// manager and the recovery sweep.
//
// The connection pool is capped at one connection: SQLite accepts a single
// writer, and every mutation runs as a short IMMEDIATE transaction so that
// lease selection and marking cannot interleave.
type Store struct {
	db     *sql.DB
	codec  ports.ColumnEncryptor
	logger ports.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEncryptor sets the codec applied to PHI and secret columns.
// Without it, column values are stored as given.
func WithEncryptor(c ports.ColumnEncryptor) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates or opens the database at path and applies pending migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//   - BEGIN IMMEDIATE for every transaction
func Open(path string, opts ...Option) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	s := newStore(db, opts)
	n, err := Migrate(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if n > 0 {
		s.logger.Info("applied migrations", log.Int("count", n), log.String("path", path))
	}
	return s, nil
}

// OpenDB opens and configures the database at path without applying
// migrations.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open(dialect, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	return db, nil
}

// NewWithDB wraps an already configured database without running
// migrations.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	return newStore(db, opts)
}

func newStore(db *sql.DB, opts []Option) *Store {
	s := &Store{
		db:     db,
		codec:  plainCodec{},
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func migrationSource() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}
}

// Migrate applies every pending migration and returns how many ran.
func Migrate(db *sql.DB) (int, error) {
	n, err := migrate.Exec(db, dialect, migrationSource(), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("apply migrations: %w", err)
	}
	return n, nil
}

// MigrationStatus lists applied migrations in order.
func MigrationStatus(db *sql.DB) ([]*migrate.MigrationRecord, error) {
	records, err := migrate.GetMigrationRecords(db, dialect)
	if err != nil {
		return nil, fmt.Errorf("read migration records: %w", err)
	}
	return records, nil
}

// PendingMigrations lists the ids of migrations not yet applied.
func PendingMigrations(db *sql.DB) ([]string, error) {
	all, err := migrationSource().FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("find migrations: %w", err)
	}
	applied, err := MigrationStatus(db)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Id] = true
	}
	var pending []string
	for _, m := range all {
		if !done[m.Id] {
			pending = append(pending, m.Id)
		}
	}
	return pending, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn in a transaction. Inside fn only tx may be used; the pool
// holds a single connection.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// plainCodec stores column values unchanged.
type plainCodec struct{}

func (plainCodec) Encrypt(b []byte) ([]byte, error) { return b, nil }
func (plainCodec) Decrypt(b []byte) ([]byte, error) { return b, nil }

var (
	_ ports.ClaimStore      = (*Store)(nil)
	_ ports.PayloadStore    = (*Store)(nil)
	_ ports.BatchStore      = (*Store)(nil)
	_ ports.DispatchStore   = (*Store)(nil)
	_ ports.AttachmentStore = (*Store)(nil)
	_ ports.MappingStore    = (*Store)(nil)
	_ ports.ProviderStore   = (*Store)(nil)
	_ ports.ValidationStore = (*Store)(nil)
	_ ports.APICallStore    = (*Store)(nil)
	_ ports.RecoveryStore   = (*Store)(nil)
)
