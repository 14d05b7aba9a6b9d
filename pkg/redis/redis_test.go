package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnect_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty URL returns ErrEmptyConnectionURL", func(t *testing.T) {
		t.Parallel()

		client, err := Connect(ctx, Config{})
		require.Nil(t, client)
		require.ErrorIs(t, err, ErrEmptyConnectionURL)
	})

	testCases := []struct {
		name string
		url  string
	}{
		{name: "http scheme", url: "http://localhost:6379"},
		{name: "no scheme", url: "localhost:6379"},
		{name: "postgresql scheme", url: "postgresql://localhost:6379"},
		{name: "invalid port", url: "redis://localhost:notaport"},
		{name: "invalid database", url: "redis://localhost:6379/notanumber"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := Connect(ctx, Config{URL: tc.url})
			require.Nil(t, client)
			require.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("connects and pings", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		client, err := Connect(context.Background(), Config{URL: "redis://" + srv.Addr() + "/0"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		require.NoError(t, Healthcheck(client)(context.Background()))
	})

	t.Run("gives up after retries", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		addr := srv.Addr()
		srv.Close()

		start := time.Now()
		client, err := Connect(context.Background(), Config{
			URL:           "redis://" + addr + "/0",
			RetryAttempts: 2,
			RetryInterval: 10 * time.Millisecond,
			DialTimeout:   100 * time.Millisecond,
		})
		require.Nil(t, client)
		require.ErrorIs(t, err, ErrConnectionFailed)
		require.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("stops waiting when context is cancelled", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		addr := srv.Addr()
		srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		_, err := Connect(ctx, Config{
			URL:           "redis://" + addr + "/0",
			RetryAttempts: 5,
			RetryInterval: time.Minute,
			DialTimeout:   50 * time.Millisecond,
		})
		require.ErrorIs(t, err, ErrConnectionFailed)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	t.Run("nil client returns ErrHealthcheckFailed", func(t *testing.T) {
		t.Parallel()

		err := Healthcheck(nil)(context.Background())
		require.ErrorIs(t, err, ErrHealthcheckFailed)
	})

	t.Run("closed server returns ErrHealthcheckFailed", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		client, err := Connect(context.Background(), Config{URL: "redis://" + srv.Addr()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		srv.Close()
		err = Healthcheck(client)(context.Background())
		require.ErrorIs(t, err, ErrHealthcheckFailed)
	})
}

func TestWait(t *testing.T) {
	t.Parallel()

	t.Run("cancelled context returns immediately", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := wait(ctx, 10*time.Second)
		require.True(t, errors.Is(err, context.Canceled))
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("timeout completes normally", func(t *testing.T) {
		t.Parallel()

		start := time.Now()
		require.NoError(t, wait(context.Background(), 50*time.Millisecond))
		require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 10, cfg.PoolSize)
	require.Equal(t, 2, cfg.MinIdleConns)
	require.Equal(t, 10*time.Minute, cfg.MaxIdleTime)
	require.Equal(t, 30*time.Minute, cfg.MaxActiveTime)
	require.Equal(t, 3, cfg.RetryAttempts)
	require.Equal(t, 2*time.Second, cfg.RetryInterval)

	cfg = Config{PoolSize: 4, MinIdleConns: 9}.withDefaults()
	require.Equal(t, 4, cfg.PoolSize)
	require.Equal(t, 2, cfg.MinIdleConns)
}
