package result

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// agentPayload mirrors the relevant subset of the SiliconMark agent output.
// The payload shape is not contractually stable, so decoding is weakly typed
// and every field carries an explicit default.
type agentPayload struct {
	BenchmarkResults struct {
		QuickMark struct {
			Timestamp string `mapstructure:"timestamp"`
			GPUModel  string `mapstructure:"gpu_model"`
			GPUCount  *int   `mapstructure:"gpu_count"`
			Results   struct {
				AggregateResults AggregateResults `mapstructure:"aggregate_results"`
			} `mapstructure:"results"`
		} `mapstructure:"quick_mark"`
	} `mapstructure:"benchmark_results"`
}

// Normalize maps an extracted agent payload and the attempt's rental-time
// metadata into exactly one BenchmarkRecord. It performs no I/O and cannot
// fail: absent or malformed fields degrade to defaults, because a partially
// successful benchmark run is still a valid data point.
func Normalize(doc json.RawMessage, meta TargetMeta) BenchmarkRecord {
	var payload agentPayload

	var raw map[string]any
	if err := json.Unmarshal(doc, &raw); err == nil {
		decoder, derr := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &payload,
			WeaklyTypedInput: true,
		})
		if derr == nil {
			// Decode errors leave the affected fields at their zero
			// values, which is exactly the degradation we want.
			_ = decoder.Decode(raw)
		}
	}

	qm := payload.BenchmarkResults.QuickMark

	gpuCount := 1
	if qm.GPUCount != nil {
		gpuCount = *qm.GPUCount
	}

	agg := qm.Results.AggregateResults

	return BenchmarkRecord{
		MachineID:         meta.MachineID,
		HostID:            meta.HostID,
		Score:             agg.BF16TFLOPS,
		ScoreMetric:       ScoreMetric,
		MeasuredAt:        qm.Timestamp,
		GPUModel:          qm.GPUModel,
		GPUCount:          gpuCount,
		DLPerfAtBenchmark: meta.DLPerf,
		AggregateResults:  agg,
		SourceJobID:       meta.JobID,
		Notes:             meta.Notes,
	}
}
