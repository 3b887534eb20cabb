package indexstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/siliconmark/vastmark/pkg/result"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s := NewStore(log, &config.IndexConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "index.db"),
		},
	})

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	return s
}

func sampleRecord(machineID int, score float64) *result.BenchmarkRecord {
	hostID := 991

	return &result.BenchmarkRecord{
		MachineID:         machineID,
		HostID:            &hostID,
		Score:             score,
		ScoreMetric:       result.ScoreMetric,
		MeasuredAt:        "2024-11-02T10:15:00Z",
		GPUModel:          "NVIDIA GeForce RTX 4090",
		GPUCount:          1,
		DLPerfAtBenchmark: 311.2,
		AggregateResults: result.AggregateResults{
			BF16TFLOPS:          score,
			MemoryBandwidthGBPS: 1008.0,
		},
		SourceJobID: "job-1",
	}
}

func TestInsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRecord(ctx, sampleRecord(4242, 42.5)))
	require.NoError(t, s.InsertRecord(ctx, sampleRecord(9999, 88.1)))

	records, err := s.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestListRecordsByMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRecord(ctx, sampleRecord(4242, 42.5)))
	require.NoError(t, s.InsertRecord(ctx, sampleRecord(4242, 43.0)))
	require.NoError(t, s.InsertRecord(ctx, sampleRecord(9999, 88.1)))

	records, err := s.ListRecordsByMachine(ctx, 4242)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, 4242, rec.MachineID)
		assert.Equal(t, "bf16_tflops", rec.ScoreMetric)
		require.NotNil(t, rec.HostID)
		assert.Equal(t, 991, *rec.HostID)
	}
}

func TestLatestRecordByMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestRecordByMachine(ctx, 4242)
	require.NoError(t, err)
	assert.Nil(t, latest, "no record for an unbenchmarked machine")

	require.NoError(t, s.InsertRecord(ctx, sampleRecord(4242, 42.5)))

	latest, err = s.LatestRecordByMachine(ctx, 4242)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 42.5, latest.Score)
	assert.Equal(t, 1008.0, latest.MemoryBandwidthGBPS)
}

func TestUnsupportedDriver(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s := NewStore(log, &config.IndexConfig{Driver: "oracle"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported index driver")
}
