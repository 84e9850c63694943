package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codedeck/execbox/internal/domain"
)

// RedisQueue implements domain.JobQueue on Redis Streams for job delivery
// and Pub/Sub for result broadcast.
type RedisQueue struct {
	client  *redis.Client
	stream  string
	group   string
	channel string
}

var _ domain.JobQueue = (*RedisQueue)(nil)

// NewRedisQueue wraps an already-connected client. The client is injected
// rather than dialed here so callers own connection policy and tests can
// point at miniredis.
func NewRedisQueue(client *redis.Client, stream, group, channel string) *RedisQueue {
	return &RedisQueue{
		client:  client,
		stream:  stream,
		group:   group,
		channel: channel,
	}
}

// Connect dials Redis and fails fast: a worker with no broker should not
// come up at all.
func Connect(addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("failed to connect to redis at %s: %v", addr, err))
	}
	return rdb
}

// Publish enqueues a job with XADD, letting Redis assign the stream ID.
func (r *RedisQueue) Publish(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"job": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Subscribe consumes the stream through a consumer group and streams jobs
// on a channel until the context ends.
func (r *RedisQueue) Subscribe(ctx context.Context) (<-chan domain.Job, error) {
	// MkStream ensures the stream exists even before the first publish.
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	consumerID, _ := os.Hostname()
	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	outCh := make(chan domain.Job)
	go func() {
		defer close(outCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// Block in short intervals so context cancellation is noticed.
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    r.group,
				Consumer: consumerID,
				Streams:  []string{r.stream, ">"},
				Count:    1,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("Redis stream read failed", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					payload, ok := msg.Values["job"].(string)
					if !ok {
						slog.Error("Malformed queue entry", "msgID", msg.ID)
						continue
					}
					var job domain.Job
					if err := json.Unmarshal([]byte(payload), &job); err != nil {
						slog.Error("Failed to decode job", "msgID", msg.ID, "error", err)
						continue
					}
					// Keep the stream entry ID for the later XACK.
					job.RawID = msg.ID

					select {
					case outCh <- job:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return outCh, nil
}

// Acknowledge removes a delivered entry from the pending entry list.
func (r *RedisQueue) Acknowledge(ctx context.Context, rawID string) error {
	return r.client.XAck(ctx, r.stream, r.group, rawID).Err()
}

// Broadcast publishes an execution result on the results channel.
func (r *RedisQueue) Broadcast(ctx context.Context, result domain.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// SubscribeResults streams results published by every worker.
func (r *RedisQueue) SubscribeResults(ctx context.Context) (<-chan domain.JobResult, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to results: %w", err)
	}

	outCh := make(chan domain.JobResult)
	go func() {
		defer close(outCh)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var result domain.JobResult
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					slog.Error("Failed to decode result", "error", err)
					continue
				}
				select {
				case outCh <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return outCh, nil
}
