// Package storetest is the behavioural suite every task.Store must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pdfconvapi/task"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTask returns a pending task created at createdAt that expires after ttl.
func NewTask(createdAt time.Time, ttl time.Duration) *task.Task {
	createdAt = createdAt.UTC().Truncate(time.Millisecond)
	return &task.Task{
		ID:             shortuuid.New(),
		Status:         task.StatusPending,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		SourceFileName: "report.pdf",
		Format:         task.FormatJPEG,
		Options:        task.Options{Pages: "1-2", Quality: 80, DPI: 150, PreserveLayout: true},
		ExpiresAt:      createdAt.Add(ttl),
	}
}

func ptr[T any](v T) *T { return &v }

// Run exercises s. Each subtest uses fresh ids so a shared backend is fine.
func Run(t *testing.T, s task.Store) {
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))

		got, err := s.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, in.ID, got.ID)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, in.Options, got.Options)
		assert.Equal(t, in.Format, got.Format)
		assert.Equal(t, in.SourceFileName, got.SourceFileName)
		assert.WithinDuration(t, in.ExpiresAt, got.ExpiresAt, time.Millisecond)
		assert.Zero(t, got.Progress)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))
		assert.ErrorIs(t, s.Create(ctx, in), task.ErrAlreadyExists)
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := s.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("update applies supplied fields only", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))

		got, err := s.Update(ctx, in.ID, task.Change{Status: task.StatusProcessing, Progress: ptr(30.0)})
		require.NoError(t, err)
		assert.Equal(t, task.StatusProcessing, got.Status)
		assert.Equal(t, 30.0, got.Progress)
		assert.Empty(t, got.ResultPath)
		assert.Empty(t, got.ErrorMessage)

		got, err = s.Update(ctx, in.ID, task.Change{Status: task.StatusProcessing})
		require.NoError(t, err)
		assert.Equal(t, 30.0, got.Progress)
		assert.False(t, got.UpdatedAt.Before(in.UpdatedAt))
	})

	t.Run("terminal task rejects further updates", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))

		_, err := s.Update(ctx, in.ID, task.Change{Status: task.StatusFailed, Progress: ptr(0.0), ErrorMessage: ptr("boom")})
		require.NoError(t, err)

		_, err = s.Update(ctx, in.ID, task.Change{Status: task.StatusCompleted, Progress: ptr(100.0), ResultPath: ptr("/tmp/x")})
		assert.ErrorIs(t, err, task.ErrTerminal)

		got, err := s.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, "boom", got.ErrorMessage)
		assert.Empty(t, got.ResultPath)
	})

	t.Run("clear flags null fields", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))

		_, err := s.Update(ctx, in.ID, task.Change{Status: task.StatusProcessing, ErrorMessage: ptr("transient")})
		require.NoError(t, err)
		got, err := s.Update(ctx, in.ID, task.Change{Status: task.StatusCompleted, Progress: ptr(100.0), ResultPath: ptr("/data/out.docx"), ClearError: true})
		require.NoError(t, err)
		assert.Empty(t, got.ErrorMessage)
		assert.Equal(t, "/data/out.docx", got.ResultPath)
	})

	t.Run("update unknown id", func(t *testing.T) {
		_, err := s.Update(ctx, "does-not-exist", task.Change{Status: task.StatusProcessing})
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("concurrent terminal transitions have one winner", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))

		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := task.StatusCancelled
				if i%2 == 0 {
					status = task.StatusFailed
				}
				_, results[i] = s.Update(ctx, in.ID, task.Change{Status: status, ErrorMessage: ptr(fmt.Sprint(i))})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, task.ErrTerminal)
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		in := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, in))
		require.NoError(t, s.Delete(ctx, in.ID))
		require.NoError(t, s.Delete(ctx, in.ID))
		_, err := s.Get(ctx, in.ID)
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("list expired", func(t *testing.T) {
		now := time.Now().UTC()
		old := NewTask(now.Add(-48*time.Hour), 24*time.Hour)
		fresh := NewTask(now, 24*time.Hour)
		require.NoError(t, s.Create(ctx, old))
		require.NoError(t, s.Create(ctx, fresh))

		expired, err := s.ListExpired(ctx, now)
		require.NoError(t, err)
		ids := idsOf(expired)
		assert.Contains(t, ids, old.ID)
		assert.NotContains(t, ids, fresh.ID)

		require.NoError(t, s.Delete(ctx, old.ID))
		expired, err = s.ListExpired(ctx, now)
		require.NoError(t, err)
		assert.NotContains(t, idsOf(expired), old.ID)
	})

	t.Run("list by status", func(t *testing.T) {
		a := NewTask(time.Now().Add(-time.Minute), time.Hour)
		b := NewTask(time.Now(), time.Hour)
		require.NoError(t, s.Create(ctx, a))
		require.NoError(t, s.Create(ctx, b))
		_, err := s.Update(ctx, b.ID, task.Change{Status: task.StatusProcessing, Progress: ptr(10.0)})
		require.NoError(t, err)

		pending, err := s.ListByStatus(ctx, task.StatusPending)
		require.NoError(t, err)
		assert.Contains(t, idsOf(pending), a.ID)
		assert.NotContains(t, idsOf(pending), b.ID)

		processing, err := s.ListByStatus(ctx, task.StatusProcessing)
		require.NoError(t, err)
		assert.Contains(t, idsOf(processing), b.ID)
	})
}

func idsOf(tasks []*task.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
