package siliconmark

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewClient(log, &config.SiliconMarkConfig{
		BaseURL:    srv.URL,
		Email:      "bench@example.com",
		Password:   "hunter2",
		JobName:    "vastmark",
		Benchmarks: []string{"quick_mark"},
	})
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bench@example.com", req["email"])
		assert.Equal(t, "hunter2", req["password"])

		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	}))

	require.NoError(t, c.Login(context.Background()))
}

func TestLogin_EmptyToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))

	err := c.Login(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestLogin_BadCredentials(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))

	err := c.Login(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestCreateJob(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
		case "/jobs":
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

			var req struct {
				Name       string   `json:"name"`
				Benchmarks []string `json:"benchmarks"`
				Nodes      int      `json:"nodes"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "vastmark", req.Name)
			assert.Equal(t, []string{"quick_mark"}, req.Benchmarks)
			assert.Equal(t, 3, req.Nodes)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{
				"jobId":    "job-1",
				"jobToken": "agent-key",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	job, err := c.CreateJob(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "agent-key", job.JobToken)
}

func TestCreateJob_RequiresLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := c.CreateJob(context.Background(), 1)
	require.ErrorIs(t, err, ErrAuthFailure)
}
