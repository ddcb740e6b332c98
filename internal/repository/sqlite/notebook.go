package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/repository"
)

var _ repository.NotebookRepository = (*DB)(nil)

// Save upserts a notebook by name and reads back the stored created_at, which
// is the original one when the row already existed.
func (db *DB) Save(ctx context.Context, nb *model.Notebook) error {
	now := time.Now().UTC()
	nb.Size = int64(len(nb.Content))
	nb.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO notebooks (name, content, size, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		     content = excluded.content,
		     size = excluded.size,
		     updated_at = excluded.updated_at`,
		nb.Name, nb.Content, nb.Size, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving notebook %s: %w", nb.Name, err)
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT created_at FROM notebooks WHERE name = ?`, nb.Name,
	).Scan(&nb.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading back notebook %s: %w", nb.Name, err)
	}
	return nil
}

// Get returns a notebook with its content.
func (db *DB) Get(ctx context.Context, name string) (*model.Notebook, error) {
	var nb model.Notebook
	err := db.conn.QueryRowContext(ctx,
		`SELECT name, content, size, created_at, updated_at
		 FROM notebooks
		 WHERE name = ?`,
		name,
	).Scan(&nb.Name, &nb.Content, &nb.Size, &nb.CreatedAt, &nb.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("notebook", name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting notebook %s: %w", name, err)
	}
	return &nb, nil
}

// List returns notebook metadata ordered by name, without content.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Notebook, error) {
	opts = opts.Normalize()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT name, size, created_at, updated_at
		 FROM notebooks
		 ORDER BY name
		 LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing notebooks: %w", err)
	}
	defer rows.Close()

	notebooks := make([]model.Notebook, 0, opts.Limit)
	for rows.Next() {
		var nb model.Notebook
		if err := rows.Scan(&nb.Name, &nb.Size, &nb.CreatedAt, &nb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning notebook row: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating notebooks: %w", err)
	}
	return notebooks, nil
}

// Delete removes a notebook. A missing name is reported as not found.
func (db *DB) Delete(ctx context.Context, name string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM notebooks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("sqlite: deleting notebook %s: %w", name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("notebook", name)
	}
	return nil
}
