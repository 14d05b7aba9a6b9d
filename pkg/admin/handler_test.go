package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/admin"
)

type envelope struct {
	Result  json.RawMessage    `json:"result"`
	Error   *admin.ActionError `json:"error"`
	Success bool               `json:"success"`
}

func call(t *testing.T, h http.Handler, method, target, body string, header ...string) (int, envelope) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestHandler(t *testing.T) {
	t.Parallel()

	t.Run("job_list", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := admin.NewHandler(f.svc)

		j1 := f.enqueue(t, "")
		j2 := f.enqueue(t, "q2")

		code, env := call(t, h, http.MethodGet, "/api/action/job_list", "")
		require.Equal(t, http.StatusOK, code)
		require.True(t, env.Success)
		var infos []admin.JobInfo
		require.NoError(t, json.Unmarshal(env.Result, &infos))
		assert.ElementsMatch(t, []string{j1.ID, j2.ID}, ids(infos))

		code, env = call(t, h, http.MethodGet, "/api/action/job_list?queues=q2", "")
		require.Equal(t, http.StatusOK, code)
		require.NoError(t, json.Unmarshal(env.Result, &infos))
		assert.Equal(t, []string{j2.ID}, ids(infos))

		code, env = call(t, h, http.MethodPost, "/api/action/job_list", `{"queues":["default"]}`)
		require.Equal(t, http.StatusOK, code)
		require.NoError(t, json.Unmarshal(env.Result, &infos))
		assert.Equal(t, []string{j1.ID}, ids(infos))
	})

	t.Run("job_list on empty registry returns empty list", func(t *testing.T) {
		t.Parallel()
		h := admin.NewHandler(newFixture(t).svc)

		code, env := call(t, h, http.MethodGet, "/api/action/job_list", "")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, string(env.Result))
	})

	t.Run("job_show", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := admin.NewHandler(f.svc)

		j := f.enqueue(t, "my_queue")

		code, env := call(t, h, http.MethodGet, "/api/action/job_show?id="+j.ID, "")
		require.Equal(t, http.StatusOK, code)
		var info admin.JobInfo
		require.NoError(t, json.Unmarshal(env.Result, &info))
		assert.Equal(t, j.ID, info.ID)
		assert.Equal(t, "my_queue", info.Queue)
	})

	t.Run("job_show not found", func(t *testing.T) {
		t.Parallel()
		h := admin.NewHandler(newFixture(t).svc)

		code, env := call(t, h, http.MethodGet, "/api/action/job_show?id=does-not-exist", "")
		assert.Equal(t, http.StatusNotFound, code)
		assert.False(t, env.Success)
		require.NotNil(t, env.Error)
		assert.Equal(t, admin.ErrorTypeNotFound, env.Error.Type)
	})

	t.Run("job_show missing id", func(t *testing.T) {
		t.Parallel()
		h := admin.NewHandler(newFixture(t).svc)

		code, env := call(t, h, http.MethodGet, "/api/action/job_show", "")
		assert.Equal(t, http.StatusConflict, code)
		require.NotNil(t, env.Error)
		assert.Equal(t, admin.ErrorTypeValidation, env.Error.Type)
		assert.Equal(t, []string{"Missing value"}, env.Error.Fields["id"])
	})

	t.Run("job_clear", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := admin.NewHandler(f.svc)

		f.enqueue(t, "")
		f.enqueue(t, "q")

		code, env := call(t, h, http.MethodPost, "/api/action/job_clear", `{"queues":["q"]}`)
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `["q"]`, string(env.Result))

		infos, err := f.svc.List(t.Context(), []string{"q"})
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("job_cancel", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		h := admin.NewHandler(f.svc)

		j := f.enqueue(t, "")

		code, env := call(t, h, http.MethodPost, "/api/action/job_cancel", `{"id":"`+j.ID+`"}`)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, env.Success)

		code, env = call(t, h, http.MethodPost, "/api/action/job_cancel", `{"id":"`+j.ID+`"}`)
		assert.Equal(t, http.StatusNotFound, code)
		require.NotNil(t, env.Error)
		assert.Equal(t, admin.ErrorTypeNotFound, env.Error.Type)
	})

	t.Run("unknown action", func(t *testing.T) {
		t.Parallel()
		h := admin.NewHandler(newFixture(t).svc)

		code, env := call(t, h, http.MethodGet, "/api/action/job_explode", "")
		assert.Equal(t, http.StatusBadRequest, code)
		require.NotNil(t, env.Error)
		assert.Contains(t, env.Error.Message, "job_explode")
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		h := admin.NewHandler(newFixture(t).svc)

		code, env := call(t, h, http.MethodPost, "/api/action/job_list", `{"queues":`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.False(t, env.Success)
	})

	t.Run("invalid queue name", func(t *testing.T) {
		t.Parallel()
		h := admin.NewHandler(newFixture(t).svc)

		code, env := call(t, h, http.MethodPost, "/api/action/job_clear", `{"queues":["bad name"]}`)
		assert.Equal(t, http.StatusConflict, code)
		require.NotNil(t, env.Error)
		assert.Equal(t, admin.ErrorTypeValidation, env.Error.Type)
	})
}

func TestHandlerToken(t *testing.T) {
	t.Parallel()

	h := admin.NewHandler(newFixture(t).svc, admin.WithToken("s3cret"))

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{name: "missing", want: http.StatusForbidden},
		{name: "wrong", header: []string{"Authorization", "nope"}, want: http.StatusForbidden},
		{name: "bare", header: []string{"Authorization", "s3cret"}, want: http.StatusOK},
		{name: "bearer", header: []string{"Authorization", "Bearer s3cret"}, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, env := call(t, h, http.MethodGet, "/api/action/job_list", "", tt.header...)
			assert.Equal(t, tt.want, code)
			if tt.want == http.StatusForbidden {
				require.NotNil(t, env.Error)
				assert.Equal(t, admin.ErrorTypeAuthorization, env.Error.Type)
			}
		})
	}
}
