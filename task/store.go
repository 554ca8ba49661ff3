package task

import (
	"context"
	"time"
)

// Store persists tasks. Implementations must apply each call atomically per
// task id and must refuse any Update once the stored status is terminal by
// returning ErrTerminal.
type Store interface {
	// Create inserts a new task; ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, t *Task) error
	// Get returns a copy of the task or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)
	// Update applies c and returns the resulting task.
	Update(ctx context.Context, id string, c Change) (*Task, error)
	// Delete removes the task. Deleting a missing task is not an error.
	Delete(ctx context.Context, id string) error
	// ListExpired returns tasks whose ExpiresAt is before now.
	ListExpired(ctx context.Context, now time.Time) ([]*Task, error)
	// ListByStatus returns tasks in status ordered by creation time.
	ListByStatus(ctx context.Context, status Status) ([]*Task, error)
}
