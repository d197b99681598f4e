package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
)

const checkpointKeyPrefix = "ticket-agent:checkpoint:"

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis. It returns nil when no address is configured.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not provided; parked runs will be kept in memory")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}
	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// RedisCheckpointStore keeps parked runs in Redis as JSON with an expiry, so
// abandoned conversations do not accumulate.
type RedisCheckpointStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCheckpointStore builds a checkpoint store over client.
func NewRedisCheckpointStore(client redis.Cmdable, ttl time.Duration) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client, ttl: ttl}
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *pipeline.Checkpoint) error {
	payload, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, checkpointKey(cp.RunID), payload, s.ttl).Err()
}

func (s *RedisCheckpointStore) Load(ctx context.Context, runID string) (*pipeline.Checkpoint, error) {
	payload, err := s.client.Get(ctx, checkpointKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, pipeline.NewCheckpointNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	return decodeCheckpoint(payload)
}

// Take uses GETDEL so concurrent replies cannot both claim the checkpoint.
func (s *RedisCheckpointStore) Take(ctx context.Context, runID string) (*pipeline.Checkpoint, error) {
	payload, err := s.client.GetDel(ctx, checkpointKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, pipeline.NewCheckpointNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("take checkpoint %s: %w", runID, err)
	}
	return decodeCheckpoint(payload)
}

func checkpointKey(runID string) string {
	return checkpointKeyPrefix + runID
}

func encodeCheckpoint(cp *pipeline.Checkpoint) ([]byte, error) {
	if cp == nil || cp.RunID == "" {
		return nil, errors.New("checkpoint run id required")
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint %s: %w", cp.RunID, err)
	}
	return payload, nil
}

func decodeCheckpoint(payload []byte) (*pipeline.Checkpoint, error) {
	var cp pipeline.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.State == nil {
		return nil, errors.New("decode checkpoint: missing state")
	}
	return &cp, nil
}
