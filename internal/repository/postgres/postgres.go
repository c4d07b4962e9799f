// Package postgres stores versioned documents in a PostgreSQL table.
// Each document is one row; the version column is bumped on every write and
// writes are conditional on the version the caller read.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/raakeshmj/licensegate/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects through the pgx stdlib driver and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, repository.Version, error) {
	query := `SELECT body, version FROM documents WHERE key = $1`

	var (
		body    string
		version int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&body, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", repository.ErrNotFound
		}
		return nil, "", fmt.Errorf("error performing sql request: %w", err)
	}

	return []byte(body), formatVersion(version), nil
}

func (s *Store) PutIfVersion(ctx context.Context, key string, data []byte, version repository.Version) (repository.Version, error) {
	if version == "" {
		return s.create(ctx, key, data)
	}

	expected, err := strconv.ParseInt(string(version), 10, 64)
	if err != nil {
		return "", repository.ErrVersionConflict
	}

	query :=
		`UPDATE documents
		 SET body = $1, version = version + 1, updated_at = now()
		 WHERE key = $2 AND version = $3
		 RETURNING version`

	var next int64
	err = s.db.QueryRowContext(ctx, query, string(data), key, expected).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repository.ErrVersionConflict
		}
		return "", fmt.Errorf("error performing sql request: %w", err)
	}

	return formatVersion(next), nil
}

func (s *Store) create(ctx context.Context, key string, data []byte) (repository.Version, error) {
	query :=
		`INSERT INTO documents (key, body, version)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (key) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, key, string(data))
	if err != nil {
		return "", fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return "", repository.ErrVersionConflict
	}
	return formatVersion(1), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatVersion(v int64) repository.Version {
	return repository.Version(strconv.FormatInt(v, 10))
}

var _ repository.BlobStore = (*Store)(nil)
var _ repository.Pinger = (*Store)(nil)
