// Package service holds the business rules between the HTTP handlers and
// the storage, kernel and chat layers. Services take plain values and return
// apperror values, so they can be driven from HTTP, the MCP server or the CLI
// alike.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/kernel"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/notebook"
	"github.com/sakif/notebook-server/internal/repository"
)

const (
	MaxNameLength = 100
	// DefaultMaxNotebookBytes is the upload ceiling when none is configured.
	DefaultMaxNotebookBytes = 10 << 20
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._ -]+$`)

// Executor runs code on the kernel. *kernel.Controller satisfies it.
type Executor interface {
	Execute(ctx context.Context, req kernel.Request) kernel.Result
}

// NotebookService stores uploaded notebooks and runs their cells.
type NotebookService struct {
	repo     repository.NotebookRepository
	exec     Executor
	maxBytes int64
	logger   *slog.Logger
}

// NewNotebookService creates a NotebookService. maxBytes <= 0 means
// DefaultMaxNotebookBytes.
func NewNotebookService(repo repository.NotebookRepository, exec Executor, maxBytes int64, logger *slog.Logger) *NotebookService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxNotebookBytes
	}
	return &NotebookService{
		repo:     repo,
		exec:     exec,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// MaxBytes returns the upload ceiling.
func (s *NotebookService) MaxBytes() int64 { return s.maxBytes }

// NormalizeName validates a notebook name and strips a trailing ".ipynb".
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".ipynb")

	switch {
	case name == "":
		return "", apperror.ValidationFailed("name", "notebook name is required")
	case len(name) > MaxNameLength:
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("notebook name must be %d characters or less", MaxNameLength))
	case strings.HasPrefix(name, "."):
		return "", apperror.ValidationFailed("name", "notebook name must not start with '.'")
	case !namePattern.MatchString(name):
		return "", apperror.ValidationFailed("name",
			"notebook name may only contain letters, digits, spaces, '.', '_' and '-'")
	}
	return name, nil
}

// Upload validates and stores a notebook document, replacing any notebook
// of the same name.
func (s *NotebookService) Upload(ctx context.Context, name string, content []byte) (*model.Notebook, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > s.maxBytes {
		return nil, apperror.ValidationFailed("file",
			fmt.Sprintf("notebook must be %d bytes or less", s.maxBytes))
	}
	if err := notebook.Validate(content); err != nil {
		return nil, apperror.ValidationFailed("file", err.Error())
	}

	nb := &model.Notebook{Name: name, Content: content}
	if err := s.repo.Save(ctx, nb); err != nil {
		s.logger.Error("failed to save notebook",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving notebook: %w", err)
	}

	s.logger.Info("notebook uploaded",
		slog.String("name", nb.Name),
		slog.Int64("size", nb.Size),
	)
	return nb, nil
}

// Get returns a stored notebook with its content.
func (s *NotebookService) Get(ctx context.Context, name string) (*model.Notebook, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, name)
}

// List returns stored notebooks without their content.
func (s *NotebookService) List(ctx context.Context, limit, offset int) ([]model.Notebook, error) {
	nbs, err := s.repo.List(ctx, repository.ListOptions{Limit: limit, Offset: offset}.Normalize())
	if err != nil {
		s.logger.Error("failed to list notebooks", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing notebooks: %w", err)
	}
	return nbs, nil
}

// Delete removes a stored notebook.
func (s *NotebookService) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info("notebook deleted", slog.String("name", name))
	return nil
}

// Cells lists the code cells of a stored notebook.
func (s *NotebookService) Cells(ctx context.Context, name string) ([]notebook.CodeCell, error) {
	nb, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	cells, err := notebook.ListCodeCells(nb.Content)
	if err != nil {
		return nil, apperror.ValidationFailed("file", err.Error())
	}
	return cells, nil
}

// Cell returns one code cell of a stored notebook.
func (s *NotebookService) Cell(ctx context.Context, name string, index int) (notebook.Cell, error) {
	nb, err := s.Get(ctx, name)
	if err != nil {
		return notebook.Cell{}, err
	}
	return readCell(nb, index)
}

// RunCell executes one code cell on the kernel. The cell is tagged with
// sequence id index+1.
func (s *NotebookService) RunCell(ctx context.Context, name string, index int) (kernel.Result, error) {
	nb, err := s.Get(ctx, name)
	if err != nil {
		return kernel.Result{}, err
	}
	cell, err := readCell(nb, index)
	if err != nil {
		return kernel.Result{}, err
	}

	seq := index + 1
	res := s.exec.Execute(ctx, kernel.Request{Code: cell.Source, SequenceID: &seq})

	s.logger.Info("notebook cell executed",
		slog.String("name", nb.Name),
		slog.Int("index", index),
		slog.String("status", string(res.Status)),
	)
	return res, nil
}

func readCell(nb *model.Notebook, index int) (notebook.Cell, error) {
	cell, err := notebook.ReadCell(nb.Content, index)
	switch {
	case errors.Is(err, notebook.ErrCellNotFound):
		return notebook.Cell{}, apperror.NotFound("cell", fmt.Sprintf("%s[%d]", nb.Name, index))
	case err != nil:
		return notebook.Cell{}, apperror.ValidationFailed("file", err.Error())
	}
	return cell, nil
}
