package settings

import (
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
)

var ErrInvalidSettings = errors.New("invalid settings")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSettings}, args...)...)
}

func validQuantile(q float64) bool {
	return q > 0 && q < 1 && !math.IsNaN(q)
}

// Validate reports every contradictory or out-of-range setting at once.
func (s TestSettings) Validate() error {
	var result *multierror.Error

	if _, err := ParseScenario(string(s.Scenario)); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		result = multierror.Append(result, err)
	}

	if s.MinDuration < 0 {
		result = multierror.Append(result, invalid("min_duration must not be negative"))
	}
	if s.MaxDuration < 0 {
		result = multierror.Append(result, invalid("max_duration must not be negative"))
	}
	if s.MaxDuration > 0 && s.MaxDuration < s.MinDuration {
		result = multierror.Append(result, invalid("max_duration %s is below min_duration %s", s.MaxDuration, s.MinDuration))
	}
	if s.MaxDuration == 0 && s.MaxQueryCount == 0 && s.TargetLatency() > 0 {
		// A latency-bounded phase that never meets its target would run forever.
		result = multierror.Append(result, invalid("%s with a latency target needs max_duration or max_query_count", s.Scenario))
	}
	if s.MaxQueryCount > 0 && s.MaxQueryCount < s.MinQueryCount {
		result = multierror.Append(result, invalid("max_query_count %d is below min_query_count %d", s.MaxQueryCount, s.MinQueryCount))
	}
	if s.PerformanceSampleCount < 0 {
		result = multierror.Append(result, invalid("performance_sample_count must not be negative"))
	}

	switch s.PercentileMethod {
	case NearestRank, Linear:
	default:
		result = multierror.Append(result, invalid("unknown percentile_method %q", s.PercentileMethod))
	}
	switch s.SampleIndexMode {
	case IndexRandom, IndexUnique, IndexSequential:
	default:
		result = multierror.Append(result, invalid("unknown sample_index_mode %q", s.SampleIndexMode))
	}

	switch s.Scenario {
	case SingleStream:
		if s.SingleStreamTargetLatency < 0 {
			result = multierror.Append(result, invalid("single_stream_target_latency must not be negative"))
		}
		if !validQuantile(s.SingleStreamTargetPercentile) {
			result = multierror.Append(result, invalid("single_stream_target_percentile must be in (0, 1)"))
		}
	case MultiStream:
		if s.MultiStreamInterval <= 0 {
			result = multierror.Append(result, invalid("multi_stream_interval must be positive"))
		}
		if s.MultiStreamSamplesPerQuery <= 0 {
			result = multierror.Append(result, invalid("multi_stream_samples_per_query must be positive"))
		}
		if s.MultiStreamMaxAsyncQueries <= 0 {
			result = multierror.Append(result, invalid("multi_stream_max_async_queries must be positive"))
		}
		if !validQuantile(s.MultiStreamTargetPercentile) {
			result = multierror.Append(result, invalid("multi_stream_target_percentile must be in (0, 1)"))
		}
	case Server:
		if s.ServerTargetQPS <= 0 || math.IsInf(s.ServerTargetQPS, 0) || math.IsNaN(s.ServerTargetQPS) {
			result = multierror.Append(result, invalid("server_target_qps must be a positive number"))
		}
		if s.ServerTargetLatency <= 0 {
			result = multierror.Append(result, invalid("server_target_latency must be positive"))
		}
		if !validQuantile(s.ServerTargetPercentile) {
			result = multierror.Append(result, invalid("server_target_percentile must be in (0, 1)"))
		}
		if s.ServerMaxAsyncQueries < 0 {
			result = multierror.Append(result, invalid("server_max_async_queries must not be negative"))
		}
	case Offline:
		if s.OfflineExpectedQPS <= 0 {
			result = multierror.Append(result, invalid("offline_expected_qps must be positive"))
		}
	}

	if s.Mode == FindPeakPerformance {
		if s.Scenario != Server {
			result = multierror.Append(result, invalid("FindPeakPerformance is only defined for the Server scenario"))
		}
		if s.PeakSearchTolerance <= 0 {
			result = multierror.Append(result, invalid("peak_search_tolerance must be positive"))
		}
		if s.PeakSearchMaxIterations <= 0 {
			result = multierror.Append(result, invalid("peak_search_max_iterations must be positive"))
		}
	}

	return result.ErrorOrNil()
}

// Validate checks the output side of a test.
func (l LogSettings) Validate() error {
	if l.TraceBuffer <= 0 || l.TraceBuffer&(l.TraceBuffer-1) != 0 {
		return invalid("trace_buffer must be a positive power of two")
	}
	return nil
}
