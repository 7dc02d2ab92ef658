// Package redis mirrors task snapshots into Redis so they survive registry
// pruning and process restarts for the length of their TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

const (
	keyPrefix  = "task:"
	defaultTTL = 24 * time.Hour
)

// kv is the subset of the Redis client the sink uses.
type kv interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// Sink stores each task as JSON under task:{id}.
type Sink struct {
	client kv
	ttl    time.Duration
}

// New builds a Sink. A non-positive ttl defaults to 24 hours.
func New(client kv, ttl time.Duration) *Sink {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Sink{client: client, ttl: ttl}
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// SaveTask writes the snapshot and refreshes its TTL.
func (s *Sink) SaveTask(ctx context.Context, task discovery.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	if err := s.client.Set(ctx, key(task.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key(task.ID), err)
	}
	return nil
}

// LoadTask reads a snapshot back.
func (s *Sink) LoadTask(ctx context.Context, taskID string) (discovery.Task, error) {
	raw, err := s.client.Get(ctx, key(taskID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return discovery.Task{}, discovery.ErrTaskNotFound
	}
	if err != nil {
		return discovery.Task{}, fmt.Errorf("redis get %s: %w", key(taskID), err)
	}
	var task discovery.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return discovery.Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return task, nil
}

func key(taskID string) string {
	return keyPrefix + taskID
}
