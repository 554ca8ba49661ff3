// Package postgres stores tasks in the conversion_tasks table.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"pdfconvapi/task"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const columns = `task_id, status, created_at, updated_at, file_name, format, options,
	progress, error_message, result_path, expires_at`

const notTerminal = `status NOT IN ('completed', 'failed', 'cancelled')`

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies the server is reachable.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversion_tasks (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, string(t.Status), t.CreatedAt, t.UpdatedAt, t.SourceFileName, string(t.Format), t.Options,
		t.Progress, nullable(t.ErrorMessage), nullable(t.ResultPath), t.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return task.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM conversion_tasks WHERE task_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update only touches rows that are not terminal, so a detached worker can
// never overwrite a finished task.
func (s *Store) Update(ctx context.Context, id string, c task.Change) (*task.Task, error) {
	sets := []string{"status = $2", "updated_at = $3"}
	args := []interface{}{id, string(c.Status), time.Now().UTC()}
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if c.Progress != nil {
		set("progress", *c.Progress)
	}
	switch {
	case c.ClearError:
		sets = append(sets, "error_message = NULL")
	case c.ErrorMessage != nil:
		set("error_message", *c.ErrorMessage)
	}
	switch {
	case c.ClearResult:
		sets = append(sets, "result_path = NULL")
	case c.ResultPath != nil:
		set("result_path", *c.ResultPath)
	}

	query := fmt.Sprintf(`UPDATE conversion_tasks SET %s WHERE task_id = $1 AND %s RETURNING %s`,
		strings.Join(sets, ", "), notTerminal, columns)
	t, err := scanTask(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update task: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversion_tasks WHERE task_id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check task: %w", err)
	}
	if exists {
		return nil, task.ErrTerminal
	}
	return nil, task.ErrNotFound
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversion_tasks WHERE task_id = $1`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*task.Task, error) {
	return s.query(ctx, `SELECT `+columns+` FROM conversion_tasks WHERE expires_at < $1 ORDER BY expires_at`, now)
}

func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return s.query(ctx, `SELECT `+columns+` FROM conversion_tasks WHERE status = $1 ORDER BY created_at`, string(status))
}

func (s *Store) query(ctx context.Context, sql string, args ...interface{}) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t              task.Task
		status, format string
		errMsg, result *string
	)
	err := row.Scan(&t.ID, &status, &t.CreatedAt, &t.UpdatedAt, &t.SourceFileName, &format, &t.Options,
		&t.Progress, &errMsg, &result, &t.ExpiresAt)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.Format = task.Format(format)
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	if result != nil {
		t.ResultPath = *result
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
