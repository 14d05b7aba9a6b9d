package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dmitrymomot/jobq/internal/server"
	"github.com/dmitrymomot/jobq/pkg/admin"
	"github.com/dmitrymomot/jobq/pkg/backend/memory"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

func newService(t *testing.T) *admin.Service {
	t.Helper()
	r, err := queue.NewRegistry(memory.New())
	require.NoError(t, err)
	return admin.NewService(r)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	t.Run("routes", func(t *testing.T) {
		t.Parallel()

		h := server.New(server.WithHealthCheck("backend", memory.New().Ping)).Handler(newService(t))

		for _, path := range []string{"/health/live", "/health/ready", "/api/action/job_list"} {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("failing readiness check", func(t *testing.T) {
		t.Parallel()

		h := server.New(server.WithHealthCheck("backend", func(context.Context) error {
			return errors.New("down")
		})).Handler(newService(t))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("token protects actions but not probes", func(t *testing.T) {
		t.Parallel()

		h := server.New(server.WithAPIToken("s3cret")).Handler(newService(t))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/action/job_list", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("middlewares", func(t *testing.T) {
		t.Parallel()

		sr := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		h := server.New(server.WithMiddleware(
			otelhttp.NewMiddleware("jobq.http", otelhttp.WithTracerProvider(tp)),
		)).Handler(newService(t))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/action/job_list", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "jobq.http", spans[0].Name())
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	var hookCalled bool
	srv := server.New(
		server.WithAddress("127.0.0.1:0"),
		server.WithShutdownTimeout(time.Second),
		server.WithShutdownHook(func(context.Context) error {
			hookCalled = true
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, newService(t)) }()

	var addr string
	select {
	case addr = <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/action/job_list")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.True(t, env.Success)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, hookCalled)
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	srv := server.New(server.WithAddress("256.0.0.1:bad"))
	require.Error(t, srv.Run(context.Background(), newService(t)))
}
