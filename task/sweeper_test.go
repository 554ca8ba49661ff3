package task_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pdfconvapi/store/memory"
	"pdfconvapi/store/storetest"
	"pdfconvapi/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingAborter struct {
	mu  sync.Mutex
	ids []string
}

func (a *recordingAborter) Abort(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
}

// flakyDeleteStore fails Delete for one id.
type flakyDeleteStore struct {
	*memory.Store
	failID string
}

func (s *flakyDeleteStore) Delete(ctx context.Context, id string) error {
	if id == s.failID {
		return errors.New("connection reset")
	}
	return s.Store.Delete(ctx, id)
}

func seedTask(t *testing.T, store task.Store, workDir string, createdAt time.Time, ttl time.Duration) *task.Task {
	t.Helper()
	tk := storetest.NewTask(createdAt, ttl)
	require.NoError(t, store.Create(context.Background(), tk))
	dir := filepath.Join(workDir, tk.ID, "output")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.docx"), []byte("x"), 0o600))
	return tk
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	store := memory.New()
	now := time.Now().UTC()

	expired := seedTask(t, store, workDir, now.Add(-48*time.Hour), 24*time.Hour)
	fresh := seedTask(t, store, workDir, now, 24*time.Hour)

	aborter := &recordingAborter{}
	sw := task.NewSweeper(store, workDir, time.Hour, aborter, zaptest.NewLogger(t))

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{expired.ID}, aborter.ids)

	_, err = store.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(workDir, expired.ID))

	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.DirExists(t, filepath.Join(workDir, fresh.ID))

	// A second pass has nothing left to do.
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_MissingDirectory(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	store := memory.New()

	tk := storetest.NewTask(time.Now().UTC().Add(-2*time.Hour), time.Hour)
	require.NoError(t, store.Create(ctx, tk))

	sw := task.NewSweeper(store, workDir, time.Hour, nil, zaptest.NewLogger(t))
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweeper_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	base := memory.New()
	old := time.Now().UTC().Add(-72 * time.Hour)

	first := seedTask(t, base, workDir, old, time.Hour)
	second := seedTask(t, base, workDir, old.Add(time.Minute), time.Hour)
	store := &flakyDeleteStore{Store: base, failID: first.ID}

	sw := task.NewSweeper(store, workDir, time.Hour, nil, zaptest.NewLogger(t))
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = base.Get(ctx, first.ID)
	assert.NoError(t, err, "record whose delete failed is retried on the next sweep")
	_, err = base.Get(ctx, second.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	workDir := t.TempDir()
	store := memory.New()
	expired := seedTask(t, store, workDir, time.Now().UTC().Add(-48*time.Hour), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	sw := task.NewSweeper(store, workDir, time.Hour, nil, zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), expired.ID)
		return errors.Is(err, task.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_KeepsRecordWhenDirectoryRemains(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	store := memory.New()
	old := time.Now().UTC().Add(-48 * time.Hour)

	stuck := seedTask(t, store, workDir, old, time.Hour)
	other := seedTask(t, store, workDir, old.Add(time.Minute), time.Hour)

	sw := task.NewSweeper(store, workDir, time.Hour, nil, zaptest.NewLogger(t))
	task.SetRemoveAll(sw, func(path string) error {
		if filepath.Base(path) == stuck.ID {
			return errors.New("device or resource busy")
		}
		return os.RemoveAll(path)
	})

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, stuck.ID)
	assert.NoError(t, err, "record stays so the directory is retried")
	assert.DirExists(t, filepath.Join(workDir, stuck.ID))
	_, err = store.Get(ctx, other.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)

	// Once removal succeeds the next sweep finishes the job.
	task.SetRemoveAll(sw, os.RemoveAll)
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, filepath.Join(workDir, stuck.ID))
	_, err = store.Get(ctx, stuck.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}
