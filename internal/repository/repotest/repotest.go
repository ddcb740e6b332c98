// Package repotest holds the behavior every NotebookRepository backend must
// share, run by each backend's own tests.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/model"
	"github.com/sakif/notebook-server/internal/repository"
)

// Suite configures Run.
type Suite struct {
	// New returns an empty repository. Run closes it.
	New func(t *testing.T) repository.NotebookRepository
	// KeepsCreatedAt is false for backends that can only report the last
	// modification time.
	KeepsCreatedAt bool
}

// Run executes the shared repository behavior as subtests.
func Run(t *testing.T, s Suite) {
	t.Helper()

	fresh := func(t *testing.T) repository.NotebookRepository {
		t.Helper()
		repo := s.New(t)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	}

	t.Run("save then get", func(t *testing.T) {
		repo := fresh(t)
		ctx := context.Background()

		nb := &model.Notebook{Name: "sales", Content: []byte(`{"cells": []}`)}
		require.NoError(t, repo.Save(ctx, nb))
		assert.Equal(t, int64(13), nb.Size)
		assert.False(t, nb.CreatedAt.IsZero())
		assert.False(t, nb.UpdatedAt.IsZero())

		got, err := repo.Get(ctx, "sales")
		require.NoError(t, err)
		assert.Equal(t, "sales", got.Name)
		assert.Equal(t, []byte(`{"cells": []}`), got.Content)
		assert.Equal(t, int64(13), got.Size)
		assert.WithinDuration(t, nb.UpdatedAt, got.UpdatedAt, time.Second)
	})

	t.Run("save replaces content", func(t *testing.T) {
		repo := fresh(t)
		ctx := context.Background()

		first := &model.Notebook{Name: "report", Content: []byte(`{"cells": [1]}`)}
		require.NoError(t, repo.Save(ctx, first))

		second := &model.Notebook{Name: "report", Content: []byte(`{"cells": [1, 2]}`)}
		require.NoError(t, repo.Save(ctx, second))

		got, err := repo.Get(ctx, "report")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"cells": [1, 2]}`), got.Content)
		if s.KeepsCreatedAt {
			assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Millisecond)
		}

		list, err := repo.List(ctx, repository.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("get missing", func(t *testing.T) {
		repo := fresh(t)

		_, err := repo.Get(context.Background(), "nope")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("list is ordered by name and paged", func(t *testing.T) {
		repo := fresh(t)
		ctx := context.Background()

		for _, name := range []string{"c", "a", "d", "b"} {
			require.NoError(t, repo.Save(ctx, &model.Notebook{Name: name, Content: []byte(`{"cells":[]}`)}))
		}

		all, err := repo.List(ctx, repository.ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		for i, want := range []string{"a", "b", "c", "d"} {
			assert.Equal(t, want, all[i].Name)
			assert.Empty(t, all[i].Content, "list must not load content")
			assert.Equal(t, int64(12), all[i].Size)
		}

		page, err := repo.List(ctx, repository.ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "b", page[0].Name)
		assert.Equal(t, "c", page[1].Name)

		past, err := repo.List(ctx, repository.ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.NotNil(t, past)
		assert.Empty(t, past)
	})

	t.Run("delete", func(t *testing.T) {
		repo := fresh(t)
		ctx := context.Background()

		require.NoError(t, repo.Save(ctx, &model.Notebook{Name: "tmp", Content: []byte(`{}`)}))
		require.NoError(t, repo.Delete(ctx, "tmp"))

		_, err := repo.Get(ctx, "tmp")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)

		err = repo.Delete(ctx, "tmp")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("names with spaces and dots", func(t *testing.T) {
		repo := fresh(t)
		ctx := context.Background()

		for i, name := range []string{"Q1 report", "v1.2-final", "a_b"} {
			content := []byte(fmt.Sprintf(`{"cells": [], "n": %d}`, i))
			require.NoError(t, repo.Save(ctx, &model.Notebook{Name: name, Content: content}))

			got, err := repo.Get(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, content, got.Content)
		}
	})
}
