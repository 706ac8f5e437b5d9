// Package storage persists client state in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"fintrack/internal/core"
	"fintrack/internal/log"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	keyToken       = "session.token"
	keyDisplayName = "session.display_name"
)

// SQLiteSessions is a key-value backed auth.SessionStore.
type SQLiteSessions struct {
	db     *sql.DB
	logger *log.Logger
}

// Open creates the database file if needed and brings the session schema
// up to date on the same connection, so ":memory:" databases work too.
func Open(dbPath string, logger *log.Logger) (*SQLiteSessions, error) {
	logger = log.OrDiscard(logger).WithComponent(log.ComponentStorage)
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database alive for the life of the store.
	db.SetMaxOpenConns(1)

	version, err := migrateSchema(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("session schema ready", "db", dbPath, "version", version)

	return &SQLiteSessions{db: db, logger: logger}, nil
}

// migrateSchema applies the embedded migrations to db and returns the
// resulting schema version. The migrate instance is not closed: closing it
// would close db as well.
func migrateSchema(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("load session migrations: %w", err)
	}
	defer src.Close()

	target, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("prepare session schema: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return 0, fmt.Errorf("prepare session schema: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate session schema: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read session schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("session schema version %d is dirty", version)
	}
	return version, nil
}

func (s *SQLiteSessions) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load implements auth.SessionStore.
func (s *SQLiteSessions) Load(ctx context.Context) (core.Session, bool, error) {
	tok, ok, err := s.get(ctx, keyToken)
	if err != nil || !ok {
		return core.Session{}, false, err
	}
	name, _, err := s.get(ctx, keyDisplayName)
	if err != nil {
		return core.Session{}, false, err
	}
	return core.Session{Token: tok, DisplayName: name}, true, nil
}

// Save implements auth.SessionStore.
func (s *SQLiteSessions) Save(ctx context.Context, sess core.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for k, v := range map[string]string{keyToken: sess.Token, keyDisplayName: sess.DisplayName} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			k, v); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.DebugContext(ctx, "session saved", log.FieldUser, sess.DisplayName)
	return nil
}

// Clear implements auth.SessionStore.
func (s *SQLiteSessions) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?)`, keyToken, keyDisplayName); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.DebugContext(ctx, "session cleared")
	return nil
}

func (s *SQLiteSessions) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}
