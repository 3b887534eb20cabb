package indexstore

import (
	"time"

	"github.com/siliconmark/vastmark/pkg/result"
)

// Record is a benchmark record row in the index database. The JSON store
// stays the source of truth; the index exists for queries the flat array
// cannot serve.
type Record struct {
	ID        uint `gorm:"primaryKey"`
	MachineID int  `gorm:"index;not null"`
	HostID    *int
	Score     float64
	// Metric the score was taken from.
	ScoreMetric string
	MeasuredAt  string
	GPUModel    string
	GPUCount    int
	DLPerf      float64

	BF16TFLOPS          float64
	FP16TFLOPS          float64
	FP32TFLOPS          float64
	FP8TFLOPS           float64
	MemoryBandwidthGBPS float64
	PCIeBandwidthGBPS   float64

	SourceJobID string
	Notes       string

	IndexedAt time.Time
}

// recordFromBenchmark flattens a benchmark record into an index row.
func recordFromBenchmark(rec *result.BenchmarkRecord) *Record {
	return &Record{
		MachineID:           rec.MachineID,
		HostID:              rec.HostID,
		Score:               rec.Score,
		ScoreMetric:         rec.ScoreMetric,
		MeasuredAt:          rec.MeasuredAt,
		GPUModel:            rec.GPUModel,
		GPUCount:            rec.GPUCount,
		DLPerf:              rec.DLPerfAtBenchmark,
		BF16TFLOPS:          rec.AggregateResults.BF16TFLOPS,
		FP16TFLOPS:          rec.AggregateResults.FP16TFLOPS,
		FP32TFLOPS:          rec.AggregateResults.FP32TFLOPS,
		FP8TFLOPS:           rec.AggregateResults.FP8TFLOPS,
		MemoryBandwidthGBPS: rec.AggregateResults.MemoryBandwidthGBPS,
		PCIeBandwidthGBPS:   rec.AggregateResults.PCIeBandwidthGBPS,
		SourceJobID:         rec.SourceJobID,
		Notes:               rec.Notes,
		IndexedAt:           time.Now(),
	}
}
