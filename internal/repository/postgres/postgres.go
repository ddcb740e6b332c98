// Package postgres stores notebooks in PostgreSQL using a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/repository"
)

// Store is a PostgreSQL-backed NotebookRepository.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ repository.NotebookRepository = (*Store)(nil)

// New connects, verifies connectivity and, when configured, migrates.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: connecting to database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: running migrations: %w", err)
		}
	}
	return s, nil
}

// Save upserts a notebook; RETURNING yields the original created_at on update.
func (s *Store) Save(ctx context.Context, nb *model.Notebook) error {
	now := time.Now().UTC()
	nb.Size = int64(len(nb.Content))
	nb.UpdatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO notebooks (name, content, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET
			content = EXCLUDED.content,
			size = EXCLUDED.size,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, nb.Name, nb.Content, nb.Size, now).Scan(&nb.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: saving notebook %s: %w", nb.Name, err)
	}
	return nil
}

// Get returns a notebook with its content.
func (s *Store) Get(ctx context.Context, name string) (*model.Notebook, error) {
	var nb model.Notebook
	err := s.pool.QueryRow(ctx, `
		SELECT name, content, size, created_at, updated_at
		FROM notebooks
		WHERE name = $1
	`, name).Scan(&nb.Name, &nb.Content, &nb.Size, &nb.CreatedAt, &nb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("notebook", name)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting notebook %s: %w", name, err)
	}
	return &nb, nil
}

// List returns notebook metadata ordered by name, without content.
func (s *Store) List(ctx context.Context, opts repository.ListOptions) ([]model.Notebook, error) {
	opts = opts.Normalize()

	rows, err := s.pool.Query(ctx, `
		SELECT name, size, created_at, updated_at
		FROM notebooks
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing notebooks: %w", err)
	}

	notebooks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Notebook, error) {
		var nb model.Notebook
		err := row.Scan(&nb.Name, &nb.Size, &nb.CreatedAt, &nb.UpdatedAt)
		return nb, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning notebooks: %w", err)
	}
	if notebooks == nil {
		notebooks = []model.Notebook{}
	}
	return notebooks, nil
}

// Delete removes a notebook. A missing name is reported as not found.
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notebooks WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("postgres: deleting notebook %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("notebook", name)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
