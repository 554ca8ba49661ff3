// Package redisstore keeps tasks in Redis. Durability depends on the server
// running with AOF or RDB persistence.
//
// Layout, all under a configurable prefix:
//
//	task:<id>              JSON encoded task
//	tasks:expiry           sorted set of ids scored by expires_at (unix ms)
//	tasks:status:<status>  sorted set of ids scored by created_at (unix ms)
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pdfconvapi/task"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

var allStatuses = []task.Status{
	task.StatusPending, task.StatusProcessing, task.StatusCompleted, task.StatusFailed, task.StatusCancelled,
}

type Store struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *Store) taskKey(id string) string { return s.prefix + "task:" + id }
func (s *Store) expiryKey() string       { return s.prefix + "tasks:expiry" }
func (s *Store) statusKey(st task.Status) string {
	return s.prefix + "tasks:status:" + string(st)
}

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	key := s.taskKey(t.ID)

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return task.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(t.ExpiresAt.UnixMilli()), Member: t.ID})
			pipe.ZAdd(ctx, s.statusKey(t.Status), redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.ID})
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Someone else wrote the key between WATCH and EXEC.
		return task.ErrAlreadyExists
	case errors.Is(err, task.ErrAlreadyExists):
		return err
	case err != nil:
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	raw, err := s.rdb.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return decode(raw)
}

// Update runs an optimistic WATCH/MULTI transaction, retrying when another
// writer touched the task in between.
func (s *Store) Update(ctx context.Context, id string, c task.Change) (*task.Task, error) {
	key := s.taskKey(id)

	for i := 0; i < maxTxRetries; i++ {
		var updated *task.Task
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return task.ErrNotFound
			}
			if err != nil {
				return err
			}
			cur, err := decode(raw)
			if err != nil {
				return err
			}
			if cur.Status.IsTerminal() {
				return task.ErrTerminal
			}

			prev := cur.Status
			c.Apply(cur, time.Now().UTC())
			data, err := json.Marshal(cur)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if prev != cur.Status {
					pipe.ZRem(ctx, s.statusKey(prev), id)
					pipe.ZAdd(ctx, s.statusKey(cur.Status), redis.Z{Score: float64(cur.CreatedAt.UnixMilli()), Member: id})
				}
				return nil
			})
			if err == nil {
				updated = cur
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, task.ErrNotFound) || errors.Is(err, task.ErrTerminal) {
				return nil, err
			}
			return nil, fmt.Errorf("update task: %w", err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update task %s: gave up after %d conflicting writes", id, maxTxRetries)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.taskKey(id))
		pipe.ZRem(ctx, s.expiryKey(), id)
		for _, st := range allStatuses {
			pipe.ZRem(ctx, s.statusKey(st), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*task.Task, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	ids, err := s.rdb.ZRange(ctx, s.statusKey(status), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	// The index can briefly lag behind the record.
	out := tasks[:0]
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// load fetches ids in order, skipping ids whose record is gone.
func (s *Store) load(ctx context.Context, ids []string) ([]*task.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	out := make([]*task.Task, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		t, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decode(raw []byte) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
