package store

import (
	"context"
	"encoding/json"
	stdErrors "errors"

	redis "github.com/redis/go-redis/v9"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

const defaultRedisPrefix = "tasklock:"

// RedisStore implements Store on Redis. Each record is a JSON string under
// its own key and a set indexes the known ids. Conditional writes run as an
// optimistic transaction: the record key is WATCHed, the condition is
// evaluated on the value read under the watch, and the write is committed
// with MULTI/EXEC. A concurrent write to the same key aborts EXEC and is
// reported as ErrConditionFailed.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
}

// NewRedisStore returns a RedisStore using client. Keys are namespaced with
// prefix; an empty prefix selects "tasklock:".
func NewRedisStore(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, opts: buildOptions(opts)}
}

func (s *RedisStore) key(id string) string { return s.prefix + "task:" + id }
func (s *RedisStore) indexKey() string     { return s.prefix + "tasks" }

func translateRedis(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return tlerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return tlerrors.ErrConnectionClosed
	case stdErrors.Is(err, redis.TxFailedErr):
		return ErrConditionFailed
	}
	return err
}

func decodeTask(data []byte) (task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// Insert implements Store.Insert.
func (s *RedisStore) Insert(ctx context.Context, t task.Task) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	t = t.Clone()
	t.Version = 1
	data, err := json.Marshal(t)
	if err != nil {
		return task.Task{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, s.key(t.ID), data, 0).Result()
	if err != nil {
		return task.Task{}, translateRedis(err)
	}
	if !ok {
		return task.Task{}, ErrExists
	}
	if err := s.client.SAdd(cctx, s.indexKey(), t.ID).Err(); err != nil {
		return task.Task{}, translateRedis(err)
	}
	return t, nil
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, id string) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return task.Task{}, tlerrors.ErrNotFound
	}
	if err != nil {
		return task.Task{}, translateRedis(err)
	}
	return decodeTask(data)
}

// List implements Store.List.
func (s *RedisStore) List(ctx context.Context) ([]task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	ids, err := s.client.SMembers(cctx, s.indexKey()).Result()
	if err != nil {
		return nil, translateRedis(err)
	}
	if len(ids) == 0 {
		return []task.Task{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(cctx, keys...).Result()
	if err != nil {
		return nil, translateRedis(err)
	}
	out := make([]task.Task, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between SMEMBERS and MGET
			continue
		}
		t, err := decodeTask([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Update implements Store.Update.
func (s *RedisStore) Update(ctx context.Context, id string, cond Condition, mutate Mutation) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	key := s.key(id)
	var out task.Task
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(cctx, key).Bytes()
		if err == redis.Nil {
			return tlerrors.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeTask(data)
		if err != nil {
			return err
		}
		if !holds(cond, cur) {
			return ErrConditionFailed
		}
		n := next(cur, mutate)
		enc, err := json.Marshal(n)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(cctx, func(pipe redis.Pipeliner) error {
			pipe.Set(cctx, key, enc, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = n
		return nil
	}
	if err := s.client.Watch(cctx, txf, key); err != nil {
		return task.Task{}, translateRedis(err)
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, id string, cond Condition) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	key := s.key(id)
	removed := false
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(cctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := decodeTask(data)
		if err != nil {
			return err
		}
		if !holds(cond, cur) {
			return ErrConditionFailed
		}
		_, err = tx.TxPipelined(cctx, func(pipe redis.Pipeliner) error {
			pipe.Del(cctx, key)
			pipe.SRem(cctx, s.indexKey(), id)
			return nil
		})
		if err != nil {
			return err
		}
		removed = true
		return nil
	}
	if err := s.client.Watch(cctx, txf, key); err != nil {
		return false, translateRedis(err)
	}
	return removed, nil
}
