package runner

import (
	"errors"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"steadybench/internal/completion"
	"steadybench/internal/metrics"
	"steadybench/internal/settings"
	"steadybench/internal/stats"
	"steadybench/internal/sut"
)

// ErrInsufficientEvidence marks a phase that stopped before its minimum
// duration or query count was reached.
var ErrInsufficientEvidence = errors.New("insufficient evidence")

// Config is everything a Runner needs for one test.
type Config struct {
	Settings settings.TestSettings
	Log      settings.LogSettings

	SUT sut.SystemUnderTest
	QSL sut.SampleLibrary

	// Trace receives the detail log. nil discards it.
	Trace io.Writer
	// Logger gets phase transitions. The zero value is disabled.
	Logger zerolog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Reporters run once, in order, after the last phase.
	Reporters []Reporter
}

// Reporter consumes the final result: report files, history, printers.
type Reporter interface {
	Report(res *Result) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(res *Result) error

func (f ReporterFunc) Report(res *Result) error { return f(res) }

// Metric is the headline number of a scenario.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// TestResult is the outcome of one phase.
type TestResult struct {
	Phase    Phase             `json:"-"`
	PhaseID  string            `json:"phase"`
	Scenario settings.Scenario `json:"scenario"`
	Mode     settings.Mode     `json:"mode"`

	IssuedQueries    uint64        `json:"issued_queries"`
	IssuedSamples    uint64        `json:"issued_samples"`
	CompletedQueries uint64        `json:"completed_queries"`
	CompletedSamples uint64        `json:"completed_samples"`
	Duration         time.Duration `json:"duration_ns"`
	Stop             string        `json:"stop_reason"`

	Latency          stats.Summary `json:"latency"`
	TargetPercentile float64       `json:"target_percentile"`
	TargetLatency    time.Duration `json:"target_latency_ns"`
	// TargetValue is the measured latency at TargetPercentile.
	TargetValue time.Duration `json:"target_value_ns"`

	Metric Metric `json:"metric"`

	// QPS is completed samples over the span from first issue to last
	// completion. QPSWithoutOverhead divides by the summed query latencies
	// instead, so harness time between queries is excluded.
	QPS                float64 `json:"qps"`
	QPSWithoutOverhead float64 `json:"qps_without_overhead"`
	ScheduledQPS       float64 `json:"scheduled_qps"`
	TargetQPS          float64 `json:"target_qps,omitempty"`

	MissedQueries    uint64 `json:"missed_queries,omitempty"`
	SkippedIntervals uint64 `json:"skipped_intervals,omitempty"`
	Coalesced        uint64 `json:"coalesced,omitempty"`
	TargetRateMissed bool   `json:"target_rate_missed,omitempty"`

	Violations   completion.Violations `json:"violations"`
	Outstanding  uint64                `json:"outstanding_at_drain"`
	TraceDropped uint64                `json:"trace_dropped,omitempty"`

	Valid  bool     `json:"valid"`
	Pass   bool     `json:"pass"`
	Causes []string `json:"causes,omitempty"`

	Samples   []stats.Sample   `json:"-"`
	Responses []stats.Response `json:"-"`

	errs  []error
	fatal bool
}

func (t *TestResult) invalidate(err error) {
	t.Valid = false
	t.Pass = false
	t.errs = append(t.errs, err)
	t.Causes = append(t.Causes, err.Error())
}

func (t *TestResult) abort(err error) {
	t.fatal = true
	t.invalidate(err)
}

// Err joins every reason the phase is invalid.
func (t *TestResult) Err() error {
	var result *multierror.Error
	result = multierror.Append(result, t.errs...)
	return result.ErrorOrNil()
}

// Result aggregates every phase of a test.
type Result struct {
	ID       string                `json:"id"`
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished"`
	SUT      string                `json:"sut"`
	QSL      string                `json:"qsl"`
	Settings settings.TestSettings `json:"settings"`

	Phases []*TestResult `json:"phases"`

	PeakQPS       float64 `json:"peak_qps,omitempty"`
	PeakConverged bool    `json:"peak_converged,omitempty"`

	Valid  bool     `json:"valid"`
	Pass   bool     `json:"pass"`
	Causes []string `json:"causes,omitempty"`
}

// Primary is the phase the headline numbers come from: the best passing
// peak search iteration, else the last performance phase, else the first
// phase.
func (r *Result) Primary() *TestResult {
	var perf *TestResult
	for _, p := range r.Phases {
		if p.Phase == PeakSearch || p.Phase == Performance {
			if r.PeakQPS > 0 && p.TargetQPS == r.PeakQPS && p.Pass {
				return p
			}
			perf = p
		}
	}
	if perf != nil {
		return perf
	}
	if len(r.Phases) > 0 {
		return r.Phases[0]
	}
	return nil
}

// Accuracy returns the accuracy phase, if one ran.
func (r *Result) Accuracy() *TestResult {
	for _, p := range r.Phases {
		if p.Phase == Accuracy {
			return p
		}
	}
	return nil
}

// Err joins the errors of every phase.
func (r *Result) Err() error {
	var result *multierror.Error
	for _, p := range r.Phases {
		if err := p.Err(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	Phase   Phase
	Elapsed time.Duration

	IssuedQueries    uint64
	IssuedSamples    uint64
	CompletedSamples uint64
	Inflight         int64
	TargetQPS        float64

	// Pre-calculated percentiles for the UI (cheap copy)
	P50Ms float64
	P90Ms float64
	P99Ms float64
	MaxMs float64

	AvgQueueWaitMs float64
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot
