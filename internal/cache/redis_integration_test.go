//go:build integration

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"llmrouter/internal/core"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisCache_Integration(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	c, err := NewRedisCache(RedisConfig{URL: url, Prefix: "test:resp", TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	a := NewKey("groq", &core.GenerationRequest{Prompt: "one"})
	a2 := NewKey("groq", &core.GenerationRequest{Prompt: "two"})
	b := NewKey("ollama", &core.GenerationRequest{Prompt: "one"})

	got, err := c.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, k := range []Key{a, a2, b} {
		require.NoError(t, c.Set(ctx, k, &core.GenerationResult{Provider: k.Provider, Content: k.String()}))
	}

	got, err = c.Get(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.String(), got.Content)

	n, err := c.InvalidateProvider(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ = c.Get(ctx, a2)
	assert.Nil(t, got)
	got, _ = c.Get(ctx, b)
	assert.NotNil(t, got)

	require.NoError(t, c.Clear(ctx))
	got, _ = c.Get(ctx, b)
	assert.Nil(t, got)
}

func TestRedisCache_Expiry(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	c, err := NewRedisCache(RedisConfig{URL: url, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	k := NewKey("p", &core.GenerationRequest{Prompt: "x"})
	require.NoError(t, c.Set(ctx, k, &core.GenerationResult{Content: "x"}))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	got, err := c.Get(ctx, k)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// failingDelHook makes every DEL command fail.
type failingDelHook struct{}

func (failingDelHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (failingDelHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "del" {
			err := errors.New("READONLY replica")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failingDelHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisCache_StaleEvictionFailureIsLogged(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	c, err := NewRedisCache(RedisConfig{URL: url, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	k := NewKey("p", &core.GenerationRequest{Prompt: "x"})
	require.NoError(t, c.Set(ctx, k, &core.GenerationResult{Content: "x"}))

	c.client.AddHook(failingDelHook{})
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	got, err := c.Get(ctx, k)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Contains(t, buf.String(), "failed to evict stale cache entry")
	assert.Contains(t, buf.String(), "READONLY replica")
}
