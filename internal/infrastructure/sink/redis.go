package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"confload/pkg/batch"
	"confload/pkg/circuitbreaker"
	"confload/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds the publisher connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key is the list the records are pushed onto; one list can collect
	// several load runners.
	Key string

	// Batching turns one round trip per record into one per batch.
	BatchSize     int
	BatchInterval time.Duration
}

// RedisSink publishes stats records onto a redis list so runs spread
// over several machines can be aggregated in one place. Records are
// batched, and pushes go through a circuit breaker: a dead redis
// mid-run degrades to dropped batches instead of stalling the stats
// schedule.
type RedisSink struct {
	client  *redis.Client
	key     string
	batcher *batch.Batcher[[]byte]
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewRedisSink connects and pings. Unreachable redis at construction
// is an unopenable sink and fails the run up front.
func NewRedisSink(cfg RedisConfig, logger *zap.SugaredLogger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewStatsSinkError(
			fmt.Sprintf("redis unreachable at %s", cfg.Address), err)
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 2 * time.Second
	}

	s := &RedisSink{
		client:  client,
		key:     cfg.Key,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
	s.batcher = batch.NewBatcher(cfg.BatchSize, cfg.BatchInterval, s.push)

	logger.Infow("stats publisher connected to redis",
		"address", cfg.Address, "key", cfg.Key, "batch_size", cfg.BatchSize)
	return s, nil
}

// Write queues one record; delivery happens on the batch schedule.
func (s *RedisSink) Write(record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.NewStatsSinkError("encode stats record", err)
	}
	s.batcher.Add(data)
	return nil
}

// push delivers one batch with a single LPUSH.
func (s *RedisSink) push(ctx context.Context, records [][]byte) error {
	values := make([]interface{}, len(records))
	for i, r := range records {
		values[i] = r
	}

	err := s.breaker.Execute(func() error {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return s.client.LPush(pctx, s.key, values...).Err()
	})
	if err != nil {
		s.logger.Warnw("stats batch publish failed",
			"records", len(records), "breaker", s.breaker.State().String(), "error", err)
	}
	return err
}

// Close flushes the remainder and releases the connection.
func (s *RedisSink) Close() error {
	s.batcher.Stop()
	if err := s.client.Close(); err != nil {
		return errors.NewStatsSinkError("close redis publisher", err)
	}
	return nil
}
