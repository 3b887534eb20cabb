package result

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T, path string) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewStore(log, path)
}

func readRecords(t *testing.T, path string) []BenchmarkRecord {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []BenchmarkRecord
	require.NoError(t, json.Unmarshal(data, &records))

	return records
}

func TestStore_CreatesFileOnFirstAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "benchmarks.json")
	s := newTestStore(t, path)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	defer func() { require.NoError(t, s.Stop()) }()

	require.NoError(t, s.Append(ctx, &BenchmarkRecord{MachineID: 1, ScoreMetric: ScoreMetric}))

	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].MachineID)
}

func TestStore_AppendPreservesPriorRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmarks.json")

	// Pre-existing store with one record.
	existing := `[
  {
    "machineId": 100,
    "score": 9.5,
    "scoreMetric": "bf16_tflops",
    "measuredAt": "",
    "gpuModel": "",
    "gpuCount": 1,
    "dlperfAtBenchmark": 0,
    "aggregateResults": {"bf16_tflops":9.5,"fp16_tflops":0,"fp32_tflops":0,"fp8_tflops":0,"memory_bandwidth_gbps":0,"pcie_bandwidth_gbps":0},
    "sourceJobId": "",
    "notes": ""
  }
]`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

	s := newTestStore(t, path)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	defer func() { require.NoError(t, s.Stop()) }()

	require.NoError(t, s.Append(ctx, &BenchmarkRecord{MachineID: 101}))
	require.NoError(t, s.Append(ctx, &BenchmarkRecord{MachineID: 102}))

	records := readRecords(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, 100, records[0].MachineID)
	assert.Equal(t, 9.5, records[0].Score)
	assert.Equal(t, 101, records[1].MachineID)
	assert.Equal(t, 102, records[2].MachineID)
}

func TestStore_CorruptStoreIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmarks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array"}`), 0o644))

	s := newTestStore(t, path)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrCorruptStore)

	// The corrupt file must survive untouched.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.JSONEq(t, `{"not":"an array"}`, string(data))
}

func TestStore_ConcurrentAppendsAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmarks.json")
	s := newTestStore(t, path)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var g errgroup.Group

	const n = 20

	for i := 0; i < n; i++ {
		machineID := i

		g.Go(func() error {
			return s.Append(ctx, &BenchmarkRecord{MachineID: machineID})
		})
	}

	require.NoError(t, g.Wait())
	require.NoError(t, s.Stop())

	records := readRecords(t, path)
	require.Len(t, records, n, "no append may be lost to a read-modify-write race")

	seen := make(map[int]bool, n)
	for _, rec := range records {
		seen[rec.MachineID] = true
	}

	assert.Len(t, seen, n)
}

func TestStore_AppendAfterCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmarks.json")
	s := newTestStore(t, path)

	require.NoError(t, s.Start(context.Background()))

	defer func() { require.NoError(t, s.Stop()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, &BenchmarkRecord{MachineID: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
