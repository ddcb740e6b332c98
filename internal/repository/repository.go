// Package repository declares the storage contract for notebooks. The
// backends live in subpackages: local (one file per notebook), sqlite and
// postgres.
package repository

import (
	"context"

	"github.com/sakif/notebook-server/internal/model"
)

// ListOptions pages a List call. A zero Limit means DefaultLimit.
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Normalize clamps the options into the supported range.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// NotebookRepository stores notebook documents by name.
//
// Implementations return apperror.NotFound for a missing name, set Size and
// timestamps on Save, and order List by name.
type NotebookRepository interface {
	// Save inserts the notebook or replaces the content of an existing one,
	// keeping its CreatedAt.
	Save(ctx context.Context, nb *model.Notebook) error
	Get(ctx context.Context, name string) (*model.Notebook, error)
	List(ctx context.Context, opts ListOptions) ([]model.Notebook, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
