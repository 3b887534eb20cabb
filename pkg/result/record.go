// Package result defines the normalized benchmark record, the normalizer
// that produces one from a raw agent payload, and the append-only store
// that persists records.
package result

// ScoreMetric is the aggregate key the headline score is taken from. The
// choice is fixed by convention, not derived from the payload.
const ScoreMetric = "bf16_tflops"

// AggregateResults is the fixed set of named metrics extracted from the
// agent payload. Missing metrics default to zero.
type AggregateResults struct {
	BF16TFLOPS          float64 `json:"bf16_tflops" mapstructure:"bf16_tflops"`
	FP16TFLOPS          float64 `json:"fp16_tflops" mapstructure:"fp16_tflops"`
	FP32TFLOPS          float64 `json:"fp32_tflops" mapstructure:"fp32_tflops"`
	FP8TFLOPS           float64 `json:"fp8_tflops" mapstructure:"fp8_tflops"`
	MemoryBandwidthGBPS float64 `json:"memory_bandwidth_gbps" mapstructure:"memory_bandwidth_gbps"`
	PCIeBandwidthGBPS   float64 `json:"pcie_bandwidth_gbps" mapstructure:"pcie_bandwidth_gbps"`
}

// BenchmarkRecord is one completed benchmark run in its normalized form.
// Records are immutable once created; the store only ever appends.
type BenchmarkRecord struct {
	MachineID         int              `json:"machineId"`
	HostID            *int             `json:"hostId,omitempty"`
	Score             float64          `json:"score"`
	ScoreMetric       string           `json:"scoreMetric"`
	MeasuredAt        string           `json:"measuredAt"`
	GPUModel          string           `json:"gpuModel"`
	GPUCount          int              `json:"gpuCount"`
	DLPerfAtBenchmark float64          `json:"dlperfAtBenchmark"`
	AggregateResults  AggregateResults `json:"aggregateResults"`
	SourceJobID       string           `json:"sourceJobId"`
	Notes             string           `json:"notes"`
}

// TargetMeta carries the rental-time metadata an attempt knows about its
// target independently of the benchmark payload.
type TargetMeta struct {
	MachineID int
	HostID    *int
	// DLPerf is the marketplace performance estimate captured when the
	// offer was accepted. It is recorded, never recomputed.
	DLPerf float64
	JobID  string
	Notes  string
}
