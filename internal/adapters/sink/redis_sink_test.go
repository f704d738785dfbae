package sink

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisSinkAppendsStreamEntries(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	s := NewRedisSink(client, "readings:site1", 0)
	err := s.WriteBatch(ctx, []domain.Reading{
		{Timestamp: 100, SensorID: "a", Value: 1.5},
		{Timestamp: 200, SensorID: "b", Value: -2},
	})
	require.NoError(t, err)

	entries, err := client.XRange(ctx, "readings:site1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "100", entries[0].Values["ts"])
	assert.Equal(t, "a", entries[0].Values["sensor_id"])
	assert.Equal(t, "1.5", entries[0].Values["value"])
	assert.Equal(t, "-2", entries[1].Values["value"])
}

func TestRedisSinkUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	err := NewRedisSink(client, "readings", 0).WriteBatch(context.Background(), []domain.Reading{{Timestamp: 1, SensorID: "a", Value: 1}})
	assert.Error(t, err)
}
