package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/kernel"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/notebook"
)

// multipartOverhead is allowed on top of the notebook size limit for the
// multipart envelope.
const multipartOverhead = 64 << 10

// Notebooks is the subset of *service.NotebookService the handlers call.
type Notebooks interface {
	Upload(ctx context.Context, name string, content []byte) (*model.Notebook, error)
	Get(ctx context.Context, name string) (*model.Notebook, error)
	List(ctx context.Context, limit, offset int) ([]model.Notebook, error)
	Delete(ctx context.Context, name string) error
	Cells(ctx context.Context, name string) ([]notebook.CodeCell, error)
	Cell(ctx context.Context, name string, index int) (notebook.Cell, error)
	RunCell(ctx context.Context, name string, index int) (kernel.Result, error)
	MaxBytes() int64
}

// NotebookHandler serves the notebook store and cell execution.
type NotebookHandler struct {
	notebooks Notebooks
	logger    *slog.Logger
}

// NewNotebookHandler creates a NotebookHandler.
func NewNotebookHandler(nb Notebooks, logger *slog.Logger) *NotebookHandler {
	return &NotebookHandler{
		notebooks: nb,
		logger:    logger,
	}
}

// HandleUpload stores a notebook. The document comes either as the "file"
// field of a multipart form, named by the form's "name" field or the file
// name, or as the raw request body named by the "name" query parameter.
func (h *NotebookHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	limit := h.notebooks.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	name, content, err := h.readUpload(r, limit)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			err = apperror.ValidationFailed("file", "notebook is too large")
		}
		writeError(w, err)
		return
	}

	nb, err := h.notebooks.Upload(r.Context(), name, content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

func (h *NotebookHandler) readUpload(r *http.Request, limit int64) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		content, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		return r.URL.Query().Get("name"), content, nil
	}

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", nil, err
		}
		return "", nil, apperror.ValidationFailed("file", "invalid multipart form: "+err.Error())
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, apperror.ValidationFailed("file", "multipart field \"file\" is required")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	return name, content, nil
}

// HandleList lists stored notebooks. Supports ?limit= and ?offset=.
func (h *NotebookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	nbs, err := h.notebooks.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nbs)
}

// HandleGet returns the stored document itself.
func (h *NotebookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	nb, err := h.notebooks.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ipynb+json")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": nb.Name + ".ipynb",
	}))
	w.Header().Set("Last-Modified", nb.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Write(nb.Content)
}

// HandleDelete removes a stored notebook.
func (h *NotebookHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.notebooks.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCells lists the code cells of a notebook.
func (h *NotebookHandler) HandleCells(w http.ResponseWriter, r *http.Request) {
	cells, err := h.notebooks.Cells(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cells)
}

// HandleCell returns one code cell with its source.
func (h *NotebookHandler) HandleCell(w http.ResponseWriter, r *http.Request) {
	index, err := cellIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cell, err := h.notebooks.Cell(r.Context(), chi.URLParam(r, "name"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

// HandleRunCell executes one code cell on the kernel.
func (h *NotebookHandler) HandleRunCell(w http.ResponseWriter, r *http.Request) {
	index, err := cellIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.notebooks.RunCell(r.Context(), chi.URLParam(r, "name"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func cellIndex(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "index"))
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, apperror.ValidationFailed("index", "cell index must be a non-negative integer")
	}
	return index, nil
}
