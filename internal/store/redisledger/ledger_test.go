package redisledger

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetra.io/internal/auth"
)

func TestKeyUsesDigest(t *testing.T) {
	l := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", nil)
	t.Cleanup(func() { _ = l.Close() })

	key := l.key("raw.refresh.token")
	assert.Equal(t, defaultPrefix+auth.TokenDigest("raw.refresh.token"), key)
	assert.NotContains(t, key, "raw.refresh.token")
}

func TestTTLFloorsAtOneMillisecond(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "x:", func() time.Time { return now })
	t.Cleanup(func() { _ = l.Close() })

	assert.Equal(t, time.Hour, l.ttl(now.Add(time.Hour)))
	assert.Equal(t, time.Millisecond, l.ttl(now))
	assert.Equal(t, time.Millisecond, l.ttl(now.Add(-time.Hour)))
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(Options{}, nil)
	require.Error(t, err)
}
