package streams

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LagMetrics captures queue backlog for a consumer group.
type LagMetrics struct {
	Pending   int64
	Lag       int64
	Consumers int64
}

// GroupLag returns backlog metrics for the provided stream/group.
func GroupLag(ctx context.Context, client *redis.Client, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, fmt.Errorf("redis client is nil")
	}
	if stream == "" || group == "" {
		return LagMetrics{}, fmt.Errorf("stream and group are required")
	}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	for _, g := range groups {
		if g.Name != group {
			continue
		}
		return LagMetrics{Pending: g.Pending, Lag: g.Lag, Consumers: g.Consumers}, nil
	}
	return LagMetrics{}, fmt.Errorf("group %q not found on stream %q", group, stream)
}
