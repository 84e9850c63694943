package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StartRecoveryRoutine periodically reclaims stream entries that have sat in
// the pending entry list longer than maxAge, which happens when a worker
// dies mid-run. Claimed entries are re-enqueued once and acknowledged so the
// PEL cannot grow without bound.
func (r *RedisQueue) StartRecoveryRoutine(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	const consumerName = "recovery-agent"
	slog.Info("Starting queue recovery routine", "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reclaimStale(ctx, consumerName, maxAge)
		}
	}
}

func (r *RedisQueue) reclaimStale(ctx context.Context, consumerName string, maxAge time.Duration) {
	start := "-"
	for {
		messages, nextStart, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: consumerName,
		}).Result()
		if err != nil {
			slog.Error("Stale-job reclaim failed", "error", err)
			return
		}
		if len(messages) == 0 {
			return
		}

		for _, msg := range messages {
			slog.Warn("Re-enqueueing stale job", "msgID", msg.ID)
			if payload, ok := msg.Values["job"].(string); ok {
				err := r.client.XAdd(ctx, &redis.XAddArgs{
					Stream: r.stream,
					Values: map[string]interface{}{"job": payload},
				}).Err()
				if err != nil {
					slog.Error("Stale-job requeue failed", "msgID", msg.ID, "error", err)
					continue
				}
			}
			r.client.XAck(ctx, r.stream, r.group, msg.ID)
		}

		start = nextStart
		if start == "0-0" {
			return
		}
	}
}
