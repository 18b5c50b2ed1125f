package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/logger"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence"
)

var _ persistence.IPreferenceStore = (*RedisPersistence)(nil)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis skips the test if Redis is not available. Every test gets its
// own key prefix on DB 15 so runs do not interfere.
func requireRedis(t *testing.T, ttl time.Duration) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        15,
		KeyPrefix: fmt.Sprintf("test:%s:%d:", t.Name(), time.Now().UnixNano()),
		TTL:       ttl,
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_ = rp.client.Del(ctx, rp.prefixKey(keyPreferredAdapter), rp.prefixKey(keySchemaVersion)).Err()
		_ = rp.Close()
	})
	return rp
}

func TestNewRedisPersistence_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *RedisConfig
		want string
	}{
		{name: "nil config", cfg: nil, want: "cannot be nil"},
		{name: "empty address", cfg: &RedisConfig{}, want: "address cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisPersistence(tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedisPersistence_SaveAndLoadPreference(t *testing.T) {
	rp := requireRedis(t, 0)

	loaded, err := rp.LoadPreference()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	record := &persistence.PreferenceRecord{Adapter: "extension", Network: "devnet", UpdatedAt: 1700000000}
	require.NoError(t, rp.SavePreference(record))

	loaded, err = rp.LoadPreference()
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestRedisPersistence_ClearPreference(t *testing.T) {
	rp := requireRedis(t, 0)

	require.NoError(t, rp.ClearPreference())
	require.NoError(t, rp.SavePreference(persistence.NewPreferenceRecord("native_web", "")))
	require.NoError(t, rp.ClearPreference())

	loaded, err := rp.LoadPreference()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_TTL(t *testing.T) {
	rp := requireRedis(t, time.Minute)

	require.NoError(t, rp.SavePreference(persistence.NewPreferenceRecord("extension", "")))

	ttl, err := rp.client.TTL(context.Background(), rp.prefixKey(keyPreferredAdapter)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisPersistence_KeyPrefix(t *testing.T) {
	rp := requireRedis(t, 0)
	require.NoError(t, rp.SavePreference(persistence.NewPreferenceRecord("extension", "")))

	exists, err := rp.client.Exists(context.Background(), rp.prefixKey(keyPreferredAdapter)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestRedisPersistence_HealthCheckAndClose(t *testing.T) {
	rp := requireRedis(t, 0)
	require.NoError(t, rp.HealthCheck())

	require.NoError(t, rp.Close())
	require.NoError(t, rp.Close())

	err := rp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	_, err = rp.LoadPreference()
	require.Error(t, err)
}

func TestOriginKeyPrefix(t *testing.T) {
	assert.Empty(t, OriginKeyPrefix(""))

	a := OriginKeyPrefix("https://app.example")
	assert.Equal(t, a, OriginKeyPrefix("https://app.example"))
	assert.NotEqual(t, a, OriginKeyPrefix("https://other.example"))
	assert.Regexp(t, `^origin:[0-9a-f]{16}:$`, a)
}
