package modelstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"equipguard/internal/model"
)

type dialect struct {
	create string
	upsert string
	load   string
}

var sqliteDialect = dialect{
	create: `CREATE TABLE IF NOT EXISTS artifacts (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	upsert: `INSERT INTO artifacts (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	load: `SELECT data FROM artifacts WHERE name = ?`,
}

var postgresDialect = dialect{
	create: `CREATE TABLE IF NOT EXISTS artifacts (
		name TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	upsert: `INSERT INTO artifacts (name, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	load: `SELECT data FROM artifacts WHERE name = $1`,
}

type sqlStore struct {
	db *sql.DB
	d  dialect
}

func NewSQLite(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:equipguard-models.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, db, sqliteDialect)
}

func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/equipguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, db, postgresDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init artifacts table: %w", err)
	}
	return s, nil
}

func (s *sqlStore) Save(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.d.upsert, name, data, nowUTC())
	return err
}

func (s *sqlStore) SaveAll(ctx context.Context, artifacts map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.d.upsert)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	ts := nowUTC()
	for name, data := range artifacts {
		if _, err := stmt.ExecContext(ctx, name, data, ts); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.d.load, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrArtifactNotFound, name)
	}
	return data, err
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
