package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// RedisSink appends each reading to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) WriteBatch(ctx context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, r := range readings {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"ts":        strconv.FormatInt(r.Timestamp, 10),
				"sensor_id": r.SensorID,
				"value":     strconv.FormatFloat(r.Value, 'g', -1, 64),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis xadd %s: %w", s.stream, err)
	}
	return nil
}

var _ ports.Sink = (*RedisSink)(nil)
