// Package redisstore keeps job records as JSON values in Redis, with a sorted
// set indexed by expiry so the reaper can find expired jobs.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

// Records carry no Redis TTL. They live until the reaper deletes them, since
// only the record knows which artifacts the reaper has to remove.
const (
	expiryIndexKey = "jobs:expiry"
	maxRetries     = 8
)

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type Store struct {
	redis *redis.Client
}

var _ store.Store = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{redis: client}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func (s *Store) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	ok, err := s.redis.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "save job")
	}
	if !ok {
		return store.ErrExists
	}
	if err := s.redis.ZAdd(ctx, expiryIndexKey, redis.Z{
		Score:  float64(job.ExpiresAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return errors.Wrap(err, "index job expiry")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.getJob(ctx, s.redis, id)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status model.JobStatus, progress int) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyStatus(job, status, progress)
	})
}

func (s *Store) MarkDone(ctx context.Context, id, convertedLocation string) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyDone(job, convertedLocation)
	})
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyFailed(job, reason)
	})
}

func (s *Store) SaveInsights(ctx context.Context, id string, insights *model.Insights) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyInsights(job, insights)
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.redis.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	if err := s.redis.ZRem(ctx, expiryIndexKey, id).Err(); err != nil {
		return errors.Wrap(err, "unindex job")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*model.Job, error) {
	ids, err := s.redis.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list expired jobs")
	}

	ret := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.getJob(ctx, s.redis, id)
		if errors.Is(err, store.ErrNotFound) {
			// deleted between the index scan and the read; drop the dangling entry
			_ = s.redis.ZRem(ctx, expiryIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, nil
}

func (s *Store) Close() error {
	return nil
}

// mutate runs fn under WATCH so concurrent writers retry instead of
// overwriting each other.
func (s *Store) mutate(ctx context.Context, id string, fn func(*model.Job) error) error {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return errors.Wrap(err, "encode job")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.Newf("update job %s: too much contention", id)
}

func (s *Store) getJob(ctx context.Context, c getter, id string) (*model.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get job")
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, "decode job")
	}
	return &job, nil
}
