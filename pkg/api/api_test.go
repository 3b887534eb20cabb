package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/siliconmark/vastmark/pkg/result"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, records []result.BenchmarkRecord, rateLimit config.RateLimitConfig) http.Handler {
	t.Helper()

	storePath := filepath.Join(t.TempDir(), "results.json")

	if records != nil {
		data, err := json.Marshal(records)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(storePath, data, 0644))
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s := &server{
		log:       log,
		cfg:       &config.APIConfig{RateLimit: rateLimit},
		storePath: storePath,
	}

	return s.buildRouter()
}

func sampleRecords() []result.BenchmarkRecord {
	return []result.BenchmarkRecord{
		{MachineID: 4242, Score: 42.5, ScoreMetric: "bf16_tflops"},
		{MachineID: 9999, Score: 88.1, ScoreMetric: "bf16_tflops"},
		{MachineID: 4242, Score: 43.0, ScoreMetric: "bf16_tflops"},
	}
}

func TestHealth(t *testing.T) {
	router := newTestServer(t, nil, config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRecords(t *testing.T) {
	router := newTestServer(t, sampleRecords(), config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var records []result.BenchmarkRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 3)
}

func TestListRecords_EmptyStore(t *testing.T) {
	router := newTestServer(t, nil, config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMachineRecords(t *testing.T) {
	router := newTestServer(t, sampleRecords(), config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/4242", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var records []result.BenchmarkRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)

	for _, r := range records {
		assert.Equal(t, 4242, r.MachineID)
	}
}

func TestMachineRecords_BadID(t *testing.T) {
	router := newTestServer(t, nil, config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/not-a-number", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMachineLatest_FromStore(t *testing.T) {
	router := newTestServer(t, sampleRecords(), config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/4242/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var record result.BenchmarkRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, 43.0, record.Score, "append-only store, last match wins")
}

func TestMachineLatest_NotFound(t *testing.T) {
	router := newTestServer(t, sampleRecords(), config.RateLimitConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/1/latest", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	router := newTestServer(t, nil, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 2,
	})

	var tooMany bool

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rec, req)

		if rec.Code == http.StatusTooManyRequests {
			tooMany = true
		}
	}

	assert.True(t, tooMany, "burst above the limit must be rejected")
}
