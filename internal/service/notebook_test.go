package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/kernel"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================

// mockNotebookRepo is an in-memory repository.NotebookRepository.
type mockNotebookRepo struct {
	notebooks map[string]*model.Notebook
	saveErr   error
}

func newMockRepo() *mockNotebookRepo {
	return &mockNotebookRepo{notebooks: make(map[string]*model.Notebook)}
}

func (m *mockNotebookRepo) Save(_ context.Context, nb *model.Notebook) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	now := time.Now()
	nb.Size = int64(len(nb.Content))
	nb.UpdatedAt = now
	nb.CreatedAt = now
	if existing, ok := m.notebooks[nb.Name]; ok {
		nb.CreatedAt = existing.CreatedAt
	}
	stored := *nb
	m.notebooks[nb.Name] = &stored
	return nil
}

func (m *mockNotebookRepo) Get(_ context.Context, name string) (*model.Notebook, error) {
	nb, ok := m.notebooks[name]
	if !ok {
		return nil, apperror.NotFound("notebook", name)
	}
	result := *nb
	return &result, nil
}

func (m *mockNotebookRepo) List(_ context.Context, opts repository.ListOptions) ([]model.Notebook, error) {
	result := make([]model.Notebook, 0, len(m.notebooks))
	for _, nb := range m.notebooks {
		c := *nb
		c.Content = nil
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	if opts.Offset >= len(result) {
		return []model.Notebook{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *mockNotebookRepo) Delete(_ context.Context, name string) error {
	if _, ok := m.notebooks[name]; !ok {
		return apperror.NotFound("notebook", name)
	}
	delete(m.notebooks, name)
	return nil
}

func (m *mockNotebookRepo) Close() error { return nil }

// recordingExecutor records requests and answers with a fixed result.
type recordingExecutor struct {
	requests []kernel.Request
}

func (e *recordingExecutor) Execute(_ context.Context, req kernel.Request) kernel.Result {
	e.requests = append(e.requests, req)
	return kernel.Result{
		Outputs:   []kernel.OutputRecord{kernel.StreamRecord("stdout", "ran\n")},
		Status:    kernel.StatusOK,
		SessionID: "test-session",
	}
}

const sampleNotebook = `{
  "cells": [
    {"cell_type": "markdown", "source": ["# Load data\n"]},
    {"cell_type": "code", "source": ["x = 1\n", "print(x)"]},
    {"cell_type": "code", "source": "y = 2"}
  ],
  "metadata": {},
  "nbformat": 4,
  "nbformat_minor": 5
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestNotebookService(t *testing.T) (*NotebookService, *mockNotebookRepo, *recordingExecutor) {
	t.Helper()
	repo := newMockRepo()
	exec := &recordingExecutor{}
	return NewNotebookService(repo, exec, 0, testLogger()), repo, exec
}

// =========================================================================
// NAME TESTS
// =========================================================================

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "analysis", want: "analysis"},
		{in: "  analysis.ipynb  ", want: "analysis"},
		{in: "my notebook-v2_final.1", want: "my notebook-v2_final.1"},
		{in: "", wantErr: true},
		{in: ".ipynb", wantErr: true},
		{in: ".hidden", wantErr: true},
		{in: "../etc/passwd", wantErr: true},
		{in: "a/b", wantErr: true},
		{in: strings.Repeat("a", MaxNameLength), want: strings.Repeat("a", MaxNameLength)},
		{in: strings.Repeat("a", MaxNameLength+1), wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizeName(tt.in)
		if tt.wantErr {
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("NormalizeName(%q) error = %v, want ErrValidation", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeName(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =========================================================================
// UPLOAD TESTS
// =========================================================================

func TestUpload_Success(t *testing.T) {
	svc, repo, _ := newTestNotebookService(t)

	nb, err := svc.Upload(context.Background(), "sales.ipynb", []byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if nb.Name != "sales" {
		t.Errorf("Name = %q, want %q", nb.Name, "sales")
	}
	if nb.Size != int64(len(sampleNotebook)) {
		t.Errorf("Size = %d, want %d", nb.Size, len(sampleNotebook))
	}
	if _, ok := repo.notebooks["sales"]; !ok {
		t.Error("notebook was not stored")
	}
}

func TestUpload_RejectsInvalidDocument(t *testing.T) {
	svc, _, _ := newTestNotebookService(t)

	for _, body := range []string{"", "not json", `{"metadata": {}}`, `[1, 2]`} {
		_, err := svc.Upload(context.Background(), "bad", []byte(body))
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Upload(%q) error = %v, want ErrValidation", body, err)
		}
	}
}

func TestUpload_TooLarge(t *testing.T) {
	svc := NewNotebookService(newMockRepo(), &recordingExecutor{}, 16, testLogger())

	_, err := svc.Upload(context.Background(), "big", []byte(sampleNotebook))
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestUpload_RepositoryError(t *testing.T) {
	svc, repo, _ := newTestNotebookService(t)
	repo.saveErr = errors.New("disk full")

	_, err := svc.Upload(context.Background(), "nb", []byte(sampleNotebook))
	if err == nil {
		t.Fatal("Upload() should fail when the repository fails")
	}
	if errors.Is(err, apperror.ErrValidation) {
		t.Errorf("repository failure should not be a validation error: %v", err)
	}
}

// =========================================================================
// READ / DELETE TESTS
// =========================================================================

func TestGetAndDelete(t *testing.T) {
	svc, _, _ := newTestNotebookService(t)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "nb", []byte(sampleNotebook)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	nb, err := svc.Get(ctx, "nb.ipynb")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(nb.Content) != sampleNotebook {
		t.Error("Get() returned different content")
	}

	if err := svc.Delete(ctx, "nb"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(ctx, "nb"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, "nb"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestList_Pagination(t *testing.T) {
	svc, _, _ := newTestNotebookService(t)
	ctx := context.Background()

	for _, name := range []string{"c", "a", "b"} {
		if _, err := svc.Upload(ctx, name, []byte(sampleNotebook)); err != nil {
			t.Fatalf("Upload(%q) error = %v", name, err)
		}
	}

	all, err := svc.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].Name != "a" {
		t.Errorf("List() = %+v, want 3 notebooks starting with a", all)
	}

	page, err := svc.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 1 || page[0].Name != "b" {
		t.Errorf("List(1, 1) = %+v, want [b]", page)
	}
}

// =========================================================================
// CELL TESTS
// =========================================================================

func TestCells(t *testing.T) {
	svc, _, _ := newTestNotebookService(t)
	ctx := context.Background()
	if _, err := svc.Upload(ctx, "nb", []byte(sampleNotebook)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	cells, err := svc.Cells(ctx, "nb")
	if err != nil {
		t.Fatalf("Cells() error = %v", err)
	}
	if len(cells) != 2 {
		t.Fatalf("len(cells) = %d, want 2", len(cells))
	}
	if cells[0].Title != "Load data" {
		t.Errorf("cells[0].Title = %q, want %q", cells[0].Title, "Load data")
	}

	cell, err := svc.Cell(ctx, "nb", 0)
	if err != nil {
		t.Fatalf("Cell() error = %v", err)
	}
	if cell.Source != "x = 1\nprint(x)" {
		t.Errorf("Source = %q", cell.Source)
	}

	if _, err := svc.Cell(ctx, "nb", 2); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Cell(2) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Cells(ctx, "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Cells(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRunCell(t *testing.T) {
	svc, _, exec := newTestNotebookService(t)
	ctx := context.Background()
	if _, err := svc.Upload(ctx, "nb", []byte(sampleNotebook)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	res, err := svc.RunCell(ctx, "nb", 1)
	if err != nil {
		t.Fatalf("RunCell() error = %v", err)
	}
	if res.Status != kernel.StatusOK {
		t.Errorf("Status = %q, want ok", res.Status)
	}

	if len(exec.requests) != 1 {
		t.Fatalf("executor saw %d requests, want 1", len(exec.requests))
	}
	req := exec.requests[0]
	if req.Code != "y = 2" {
		t.Errorf("Code = %q, want %q", req.Code, "y = 2")
	}
	if req.SequenceID == nil || *req.SequenceID != 2 {
		t.Errorf("SequenceID = %v, want 2", req.SequenceID)
	}
}

func TestRunCell_OutOfRange(t *testing.T) {
	svc, _, exec := newTestNotebookService(t)
	ctx := context.Background()
	if _, err := svc.Upload(ctx, "nb", []byte(sampleNotebook)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	_, err := svc.RunCell(ctx, "nb", 5)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if len(exec.requests) != 0 {
		t.Error("nothing should run for a missing cell")
	}
}
