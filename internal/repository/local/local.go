// Package local stores each notebook as <name>.ipynb in a directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/repository"
)

const ext = ".ipynb"

var _ repository.NotebookRepository = (*Store)(nil)

// Store is a directory of notebook files. It has no creation time to
// report, so CreatedAt mirrors the modification time.
type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+ext)
}

// Save writes to a temporary file and renames it over the target, so a
// reader never sees a half written notebook.
func (s *Store) Save(_ context.Context, nb *model.Notebook) error {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("local: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(nb.Content); err != nil {
		tmp.Close()
		return fmt.Errorf("local: writing %s: %w", nb.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local: writing %s: %w", nb.Name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(nb.Name)); err != nil {
		return fmt.Errorf("local: saving %s: %w", nb.Name, err)
	}

	info, err := os.Stat(s.path(nb.Name))
	if err != nil {
		return fmt.Errorf("local: stat %s: %w", nb.Name, err)
	}
	fill(nb, info)
	return nil
}

// Get reads a notebook file.
func (s *Store) Get(_ context.Context, name string) (*model.Notebook, error) {
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperror.NotFound("notebook", name)
	}
	if err != nil {
		return nil, fmt.Errorf("local: reading %s: %w", name, err)
	}
	info, err := os.Stat(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("local: stat %s: %w", name, err)
	}

	nb := &model.Notebook{Name: name, Content: b}
	fill(nb, info)
	nb.Size = int64(len(b))
	return nb, nil
}

// List returns the *.ipynb files of the directory ordered by name.
func (s *Store) List(_ context.Context, opts repository.ListOptions) ([]model.Notebook, error) {
	opts = opts.Normalize()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("local: listing %s: %w", s.dir, err)
	}

	var notebooks []model.Notebook
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ext)
		if !ok || e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		nb := model.Notebook{Name: name}
		fill(&nb, info)
		notebooks = append(notebooks, nb)
	}
	sort.Slice(notebooks, func(i, j int) bool { return notebooks[i].Name < notebooks[j].Name })

	if opts.Offset >= len(notebooks) {
		return []model.Notebook{}, nil
	}
	notebooks = notebooks[opts.Offset:]
	if opts.Limit < len(notebooks) {
		notebooks = notebooks[:opts.Limit]
	}
	return notebooks, nil
}

// Delete removes a notebook file.
func (s *Store) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return apperror.NotFound("notebook", name)
	}
	if err != nil {
		return fmt.Errorf("local: deleting %s: %w", name, err)
	}
	return nil
}

// Close implements repository.NotebookRepository.
func (s *Store) Close() error { return nil }

func fill(nb *model.Notebook, info fs.FileInfo) {
	nb.Size = info.Size()
	nb.CreatedAt = info.ModTime().UTC()
	nb.UpdatedAt = nb.CreatedAt
}
