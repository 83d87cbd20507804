package storage

import (
	"time"

	"steadybench/internal/runner"
	"steadybench/internal/settings"
)

// MaxItems is how many runs the history keeps.
const MaxItems = 100

type HistoryItem struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	SUT       string            `json:"sut"`
	Scenario  settings.Scenario `json:"scenario"`
	Mode      settings.Mode     `json:"mode"`
	Summary   RunSummary        `json:"summary"`
}

type RunSummary struct {
	Valid            bool          `json:"valid"`
	Pass             bool          `json:"pass"`
	Metric           runner.Metric `json:"metric"`
	CompletedSamples uint64        `json:"completed_samples"`
	QPS              float64       `json:"qps"`
	PeakQPS          float64       `json:"peak_qps,omitempty"`
	MeanLatencyMs    float64       `json:"mean_latency_ms"`
	P99LatencyMs     float64       `json:"p99_latency_ms"`
	Causes           []string      `json:"causes,omitempty"`
}

// FromResult condenses a result into a history entry.
func FromResult(res *runner.Result) HistoryItem {
	item := HistoryItem{
		ID:        res.ID,
		Timestamp: res.Started,
		SUT:       res.SUT,
		Scenario:  res.Settings.Scenario,
		Mode:      res.Settings.Mode,
		Summary: RunSummary{
			Valid:   res.Valid,
			Pass:    res.Pass,
			PeakQPS: res.PeakQPS,
			Causes:  res.Causes,
		},
	}
	if p := res.Primary(); p != nil {
		item.Summary.Metric = p.Metric
		item.Summary.CompletedSamples = p.CompletedSamples
		item.Summary.QPS = p.QPS
		item.Summary.MeanLatencyMs = ms(p.Latency.Mean)
		for _, q := range p.Latency.Percentiles {
			if q.Q == 0.99 {
				item.Summary.P99LatencyMs = ms(q.Value)
			}
		}
	}
	return item
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
