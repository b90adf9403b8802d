package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventChannelPrefix  = "inquest:events:"
	cancelChannelPrefix = "inquest:cancel:"
	seqKeyPrefix        = "inquest:seq:"
	finalKeyPrefix      = "inquest:final:"
	metaKeyPrefix       = "inquest:meta:"

	// relayTTL bounds how long per-task keys outlive the task.
	relayTTL = time.Hour
)

// EventChannel returns the pub/sub channel carrying a task's event stream.
func EventChannel(taskID string) string { return eventChannelPrefix + taskID }

// CancelChannel returns the pub/sub channel used to request cancellation of
// a task running on a remote worker.
func CancelChannel(taskID string) string { return cancelChannelPrefix + taskID }

// RedisRelay publishes task events over Redis pub/sub, one channel per task.
// Sequence numbers come from an INCR counter so ordering survives process
// restarts, and the terminal event is cached in a keyed value so consumers
// attaching after completion still observe it.
type RedisRelay struct {
	client *redis.Client
}

func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client}
}

func (r *RedisRelay) Publish(ctx context.Context, evt Event) error {
	seq, err := r.client.Incr(ctx, seqKeyPrefix+evt.TaskID).Result()
	if err != nil {
		return fmt.Errorf("relay: next seq for %s: %w", evt.TaskID, err)
	}
	r.client.Expire(ctx, seqKeyPrefix+evt.TaskID, relayTTL)
	evt.Seq = uint64(seq)

	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("relay: marshal event: %w", err)
	}
	if evt.Terminal() {
		if err := r.client.Set(ctx, finalKeyPrefix+evt.TaskID, raw, relayTTL).Err(); err != nil {
			return fmt.Errorf("relay: cache final event for %s: %w", evt.TaskID, err)
		}
	}
	if err := r.client.Publish(ctx, EventChannel(evt.TaskID), raw).Err(); err != nil {
		return fmt.Errorf("relay: publish to %s: %w", EventChannel(evt.TaskID), err)
	}
	return nil
}

// Subscribe attaches to the task's pub/sub channel. If the task already
// finished, the cached terminal event is delivered and the channel closed
// without opening a subscription.
func (r *RedisRelay) Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error) {
	out := make(chan Event, 64)

	if raw, err := r.client.Get(ctx, finalKeyPrefix+taskID).Bytes(); err == nil {
		var final Event
		if err := json.Unmarshal(raw, &final); err != nil {
			return nil, nil, fmt.Errorf("relay: decode cached final event: %w", err)
		}
		out <- final
		close(out)
		return out, func() {}, nil
	} else if err != redis.Nil {
		return nil, nil, fmt.Errorf("relay: check final event for %s: %w", taskID, err)
	}

	sub := r.client.Subscribe(ctx, EventChannel(taskID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("relay: subscribe %s: %w", EventChannel(taskID), err)
	}

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
			if evt.Terminal() {
				return
			}
		}
	}()

	cancel := func() { sub.Close() }
	return out, cancel, nil
}

// TaskMeta records the thread identifiers a task was submitted under so a
// worker on another process can stamp them onto relayed events.
type TaskMeta struct {
	ThreadID     string `json:"thread_id"`
	ThreadItemID string `json:"thread_item_id"`
}

func (r *RedisRelay) SetTaskMeta(ctx context.Context, taskID string, meta TaskMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("relay: marshal meta: %w", err)
	}
	if err := r.client.Set(ctx, metaKeyPrefix+taskID, raw, relayTTL).Err(); err != nil {
		return fmt.Errorf("relay: store meta for %s: %w", taskID, err)
	}
	return nil
}

func (r *RedisRelay) TaskMeta(ctx context.Context, taskID string) (TaskMeta, error) {
	raw, err := r.client.Get(ctx, metaKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return TaskMeta{}, nil
	}
	if err != nil {
		return TaskMeta{}, fmt.Errorf("relay: load meta for %s: %w", taskID, err)
	}
	var meta TaskMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return TaskMeta{}, fmt.Errorf("relay: decode meta for %s: %w", taskID, err)
	}
	return meta, nil
}

// RequestCancel signals the worker that owns the task, if any, to stop.
func (r *RedisRelay) RequestCancel(ctx context.Context, taskID string) error {
	if err := r.client.Publish(ctx, CancelChannel(taskID), "cancel").Err(); err != nil {
		return fmt.Errorf("relay: publish cancel for %s: %w", taskID, err)
	}
	return nil
}

var (
	_ Publisher  = (*RedisRelay)(nil)
	_ Subscriber = (*RedisRelay)(nil)
)
