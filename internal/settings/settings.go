package settings

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Scenario string

const (
	SingleStream Scenario = "SingleStream"
	MultiStream  Scenario = "MultiStream"
	Server       Scenario = "Server"
	Offline      Scenario = "Offline"
)

var Scenarios = []Scenario{SingleStream, MultiStream, Server, Offline}

type Mode string

const (
	PerformanceOnly     Mode = "PerformanceOnly"
	AccuracyOnly        Mode = "AccuracyOnly"
	Submission          Mode = "Submission"
	FindPeakPerformance Mode = "FindPeakPerformance"
)

var Modes = []Mode{PerformanceOnly, AccuracyOnly, Submission, FindPeakPerformance}

// PercentileMethod selects how exact percentiles are read off the sorted
// latency set at the end of a phase.
type PercentileMethod string

const (
	NearestRank PercentileMethod = "nearest_rank"
	Linear      PercentileMethod = "linear"
)

// SampleIndexMode selects how sample indices are drawn from the loaded set.
type SampleIndexMode string

const (
	IndexRandom     SampleIndexMode = "random"
	IndexUnique     SampleIndexMode = "unique"
	IndexSequential SampleIndexMode = "sequential"
)

// TestSettings is the full configuration of one test. It is validated once
// before any phase starts and never mutated afterwards.
type TestSettings struct {
	Scenario Scenario `mapstructure:"scenario"`
	Mode     Mode     `mapstructure:"mode"`

	SingleStreamExpectedLatency  time.Duration `mapstructure:"single_stream_expected_latency"`
	SingleStreamTargetLatency    time.Duration `mapstructure:"single_stream_target_latency"` // 0 = unbounded
	SingleStreamTargetPercentile float64       `mapstructure:"single_stream_target_percentile"`

	MultiStreamInterval         time.Duration `mapstructure:"multi_stream_interval"`
	MultiStreamSamplesPerQuery  int           `mapstructure:"multi_stream_samples_per_query"`
	MultiStreamMaxAsyncQueries  int           `mapstructure:"multi_stream_max_async_queries"`
	MultiStreamTargetPercentile float64       `mapstructure:"multi_stream_target_percentile"`

	ServerTargetQPS        float64       `mapstructure:"server_target_qps"`
	ServerTargetLatency    time.Duration `mapstructure:"server_target_latency"`
	ServerTargetPercentile float64       `mapstructure:"server_target_percentile"`
	ServerCoalesceQueries  bool          `mapstructure:"server_coalesce_queries"`
	ServerMaxAsyncQueries  int           `mapstructure:"server_max_async_queries"` // 0 = derived

	OfflineExpectedQPS float64 `mapstructure:"offline_expected_qps"`

	MinDuration   time.Duration `mapstructure:"min_duration"`
	MaxDuration   time.Duration `mapstructure:"max_duration"` // 0 = unbounded, only when max_query_count bounds the run
	MinQueryCount uint64        `mapstructure:"min_query_count"`
	MaxQueryCount uint64        `mapstructure:"max_query_count"` // 0 = unbounded
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`   // 0 = derived

	PerformanceSampleCount int              `mapstructure:"performance_sample_count"` // 0 = library's
	QSLSeed                uint64           `mapstructure:"qsl_rng_seed"`
	SampleIndexSeed        uint64           `mapstructure:"sample_index_rng_seed"`
	ScheduleSeed           uint64           `mapstructure:"schedule_rng_seed"`
	SampleIndexMode        SampleIndexMode  `mapstructure:"sample_index_mode"`
	PercentileMethod       PercentileMethod `mapstructure:"percentile_method"`

	PeakSearchTolerance     float64 `mapstructure:"peak_search_tolerance"`
	PeakSearchMaxIterations int     `mapstructure:"peak_search_max_iterations"`
}

// LogSettings controls where the reports of a test land.
type LogSettings struct {
	OutputDir   string `mapstructure:"output_dir"`
	Prefix      string `mapstructure:"prefix"`
	WriteCSV    bool   `mapstructure:"write_csv"`
	WriteArrow  bool   `mapstructure:"write_arrow"`
	HistoryPath string `mapstructure:"history_path"` // empty disables history
	TraceBuffer int    `mapstructure:"trace_buffer"` // slots per producer ring
}

func Defaults() TestSettings {
	return TestSettings{
		Scenario: SingleStream,
		Mode:     PerformanceOnly,

		SingleStreamExpectedLatency:  time.Millisecond,
		SingleStreamTargetPercentile: 0.90,

		MultiStreamInterval:         50 * time.Millisecond,
		MultiStreamSamplesPerQuery:  8,
		MultiStreamMaxAsyncQueries:  1,
		MultiStreamTargetPercentile: 0.99,

		ServerTargetQPS:        1,
		ServerTargetLatency:    100 * time.Millisecond,
		ServerTargetPercentile: 0.99,

		OfflineExpectedQPS: 1,

		MinDuration:   10 * time.Second,
		MaxDuration:   time.Minute,
		MinQueryCount: 100,

		QSLSeed:          0x2b7e151628aed2a6,
		SampleIndexSeed:  0x093c467e37db0c7a,
		ScheduleSeed:     0x3243f6a8885a308d,
		SampleIndexMode:  IndexRandom,
		PercentileMethod: NearestRank,

		PeakSearchTolerance:     0.01,
		PeakSearchMaxIterations: 10,
	}
}

func DefaultLogSettings() LogSettings {
	return LogSettings{
		OutputDir:   ".",
		Prefix:      "steadybench_",
		WriteCSV:    true,
		TraceBuffer: 1 << 14,
	}
}

func ParseScenario(s string) (Scenario, error) {
	for _, sc := range Scenarios {
		if strings.EqualFold(string(sc), s) {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: unknown scenario %q", ErrInvalidSettings, s)
}

func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, s)
}

// SamplesPerQuery is the batch size of a performance query.
func (s TestSettings) SamplesPerQuery() int {
	switch s.Scenario {
	case MultiStream:
		return s.MultiStreamSamplesPerQuery
	case Offline:
		return int(s.OfflineSampleCount())
	default:
		return 1
	}
}

// OfflineSampleCount is the size of the single Offline query.
func (s TestSettings) OfflineSampleCount() uint64 {
	n := uint64(math.Ceil(s.OfflineExpectedQPS * s.MinDuration.Seconds() * 1.1))
	if n < s.MinQueryCount {
		n = s.MinQueryCount
	}
	if s.MaxQueryCount > 0 && n > s.MaxQueryCount {
		n = s.MaxQueryCount
	}
	if n == 0 {
		n = 1
	}
	return n
}

// TargetLatency is the latency bound of the scenario, or 0 when the
// scenario is not latency bounded.
func (s TestSettings) TargetLatency() time.Duration {
	switch s.Scenario {
	case SingleStream:
		return s.SingleStreamTargetLatency
	case MultiStream:
		return s.MultiStreamInterval
	case Server:
		return s.ServerTargetLatency
	default:
		return 0
	}
}

// TargetPercentile is the quantile (0..1) the latency bound applies to.
func (s TestSettings) TargetPercentile() float64 {
	switch s.Scenario {
	case SingleStream:
		return s.SingleStreamTargetPercentile
	case MultiStream:
		return s.MultiStreamTargetPercentile
	case Server:
		return s.ServerTargetPercentile
	default:
		return 0.90
	}
}

// MaxAsyncQueries is the in-flight query bound of the scenario.
func (s TestSettings) MaxAsyncQueries() int {
	switch s.Scenario {
	case SingleStream:
		return 1
	case MultiStream:
		return s.MultiStreamMaxAsyncQueries
	case Server:
		if s.ServerMaxAsyncQueries > 0 {
			return s.ServerMaxAsyncQueries
		}
		// Enough headroom for a SUT that runs 64x over its latency budget.
		n := int(math.Ceil(s.ServerTargetQPS * s.ServerTargetLatency.Seconds() * 64))
		if n < 1024 {
			n = 1024
		}
		return n
	default:
		return 1
	}
}

// MaxInFlightSamples sizes the completion queue.
func (s TestSettings) MaxInFlightSamples() int {
	return s.MaxAsyncQueries() * s.SamplesPerQuery()
}

// Drain is how long a phase waits for outstanding samples once issuing stops.
func (s TestSettings) Drain() time.Duration {
	if s.DrainTimeout > 0 {
		return s.DrainTimeout
	}
	d := 5 * s.TargetLatency()
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// WithServerQPS returns a copy targeting a different Server rate; used by
// the peak search.
func (s TestSettings) WithServerQPS(qps float64) TestSettings {
	s.ServerTargetQPS = qps
	return s
}
