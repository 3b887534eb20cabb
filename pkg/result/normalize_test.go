package result

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_EmptyPayload(t *testing.T) {
	rec := Normalize(json.RawMessage(`{}`), TargetMeta{MachineID: 7})

	assert.Equal(t, 7, rec.MachineID)
	assert.Nil(t, rec.HostID)
	assert.Zero(t, rec.Score)
	assert.Equal(t, "bf16_tflops", rec.ScoreMetric)
	assert.Empty(t, rec.MeasuredAt)
	assert.Empty(t, rec.GPUModel)
	assert.Equal(t, 1, rec.GPUCount, "a single accelerator is assumed unless stated otherwise")
	assert.Zero(t, rec.DLPerfAtBenchmark)
	assert.Zero(t, rec.AggregateResults.BF16TFLOPS)
	assert.Zero(t, rec.AggregateResults.FP16TFLOPS)
	assert.Zero(t, rec.AggregateResults.FP32TFLOPS)
	assert.Zero(t, rec.AggregateResults.FP8TFLOPS)
	assert.Zero(t, rec.AggregateResults.MemoryBandwidthGBPS)
	assert.Zero(t, rec.AggregateResults.PCIeBandwidthGBPS)
}

func TestNormalize_FullPayload(t *testing.T) {
	doc := json.RawMessage(`{
		"benchmark_results": {
			"quick_mark": {
				"timestamp": "2024-11-02T10:15:00Z",
				"gpu_model": "NVIDIA GeForce RTX 4090",
				"gpu_count": 2,
				"results": {
					"aggregate_results": {
						"bf16_tflops": 42.5,
						"fp16_tflops": 41.1,
						"fp32_tflops": 20.9,
						"fp8_tflops": 84.3,
						"memory_bandwidth_gbps": 912.4,
						"pcie_bandwidth_gbps": 24.8
					}
				}
			}
		}
	}`)

	hostID := 991
	rec := Normalize(doc, TargetMeta{
		MachineID: 12345,
		HostID:    &hostID,
		DLPerf:    311.2,
		JobID:     "job-abc",
		Notes:     "quickmark via vastmark",
	})

	assert.Equal(t, 42.5, rec.Score)
	assert.Equal(t, "bf16_tflops", rec.ScoreMetric)
	assert.Equal(t, "2024-11-02T10:15:00Z", rec.MeasuredAt)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", rec.GPUModel)
	assert.Equal(t, 2, rec.GPUCount)
	assert.Equal(t, 311.2, rec.DLPerfAtBenchmark)
	assert.Equal(t, 41.1, rec.AggregateResults.FP16TFLOPS)
	assert.Equal(t, 912.4, rec.AggregateResults.MemoryBandwidthGBPS)
	assert.Equal(t, "job-abc", rec.SourceJobID)
	require.NotNil(t, rec.HostID)
	assert.Equal(t, 991, *rec.HostID)
}

func TestNormalize_PartialAggregates(t *testing.T) {
	doc := json.RawMessage(`{
		"benchmark_results": {
			"quick_mark": {
				"results": {
					"aggregate_results": {
						"bf16_tflops": 10.0
					}
				}
			}
		}
	}`)

	rec := Normalize(doc, TargetMeta{MachineID: 1})

	assert.Equal(t, 10.0, rec.Score)
	assert.Zero(t, rec.AggregateResults.FP32TFLOPS, "missing aggregate keys default to zero")
	assert.Equal(t, 1, rec.GPUCount)
}

func TestNormalize_NonNumericValuesDegrade(t *testing.T) {
	doc := json.RawMessage(`{
		"benchmark_results": {
			"quick_mark": {
				"gpu_count": "4",
				"results": {
					"aggregate_results": {
						"bf16_tflops": {"oops": true}
					}
				}
			}
		}
	}`)

	rec := Normalize(doc, TargetMeta{MachineID: 1})

	// Numeric strings are tolerated, structurally wrong values fall back.
	assert.Equal(t, 4, rec.GPUCount)
	assert.Zero(t, rec.Score)
}

func TestNormalize_InvalidJSON(t *testing.T) {
	rec := Normalize(json.RawMessage(`not json`), TargetMeta{MachineID: 3})

	assert.Equal(t, 3, rec.MachineID)
	assert.Equal(t, 1, rec.GPUCount)
	assert.Zero(t, rec.Score)
}
