package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coursegen-core/server/internal/agent/model"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

type RedisCheckpointStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCheckpointStore(rdb redis.Cmdable, ttl time.Duration) *RedisCheckpointStore {
	return &RedisCheckpointStore{rdb: rdb, ttl: ttl}
}

func (r *RedisCheckpointStore) checkpointKey(runID string) string {
	return fmt.Sprintf("checkpoint:%s", runID)
}

func (r *RedisCheckpointStore) indexKey() string {
	return "checkpoint:runs"
}

func (r *RedisCheckpointStore) Save(ctx context.Context, state *model.PipelineState) error {
	if err := ValidateRunID(state.RunID); err != nil {
		return err
	}
	b, err := state.Serialize()
	if err != nil {
		logx.Error().Err(err).Str("run_id", state.RunID).Msg("failed to marshal checkpoint")
		return err
	}
	key := r.checkpointKey(state.RunID)

	// snapshot and index entry are written together
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, r.ttl)
		pipe.SAdd(ctx, r.indexKey(), state.RunID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save checkpoint to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisCheckpointStore) Load(ctx context.Context, runID string) (*model.PipelineState, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	key := r.checkpointKey(runID)

	s, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errx.CheckpointNotFound(runID)
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load checkpoint from redis")
		return nil, errx.WrapRedis(err)
	}
	return model.DeserializeState([]byte(s))
}

func (r *RedisCheckpointStore) Delete(ctx context.Context, runID string) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	key := r.checkpointKey(runID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.indexKey(), runID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete checkpoint from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// List returns stored run ids, dropping index entries whose snapshot expired.
func (r *RedisCheckpointStore) List(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		logx.Error().Err(err).Msg("failed to list checkpoints from redis")
		return nil, errx.WrapRedis(err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.rdb.Exists(ctx, r.checkpointKey(id)).Result()
		if err != nil {
			return nil, errx.WrapRedis(err)
		}
		if n == 0 {
			if err := r.rdb.SRem(ctx, r.indexKey(), id).Err(); err != nil {
				logx.Warn().Err(err).Str("run_id", id).Msg("failed to prune expired checkpoint")
			}
			continue
		}
		live = append(live, id)
	}
	sort.Strings(live)
	return live, nil
}

var _ model.CheckpointStore = (*RedisCheckpointStore)(nil)
