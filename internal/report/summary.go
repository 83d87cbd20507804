package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"steadybench/internal/runner"
	"steadybench/internal/settings"
)

const rule = "======================================================================\n"

// WriteSummary renders the human-readable result.
func WriteSummary(w io.Writer, res *runner.Result) error {
	b := &strings.Builder{}

	fmt.Fprintf(b, rule)
	fmt.Fprintf(b, "SteadyBench Results Summary\n")
	fmt.Fprintf(b, rule)
	fmt.Fprintf(b, "Run ID     : %s\n", res.ID)
	fmt.Fprintf(b, "Started    : %s\n", res.Started.Format(time.RFC3339))
	fmt.Fprintf(b, "SUT name   : %s\n", res.SUT)
	fmt.Fprintf(b, "QSL name   : %s\n", res.QSL)
	fmt.Fprintf(b, "Scenario   : %s\n", res.Settings.Scenario)
	fmt.Fprintf(b, "Mode       : %s\n", res.Settings.Mode)
	fmt.Fprintf(b, "Result is  : %s\n", verdict(res.Valid, "VALID", "INVALID"))
	fmt.Fprintf(b, "Pass       : %s\n", verdict(res.Pass, "YES", "NO"))
	if res.Settings.Mode == settings.FindPeakPerformance {
		fmt.Fprintf(b, "Peak QPS   : %.2f (converged: %t)\n", res.PeakQPS, res.PeakConverged)
	}

	if p := res.Primary(); p != nil {
		fmt.Fprintf(b, "%-10s : %.4f\n", p.Metric.Name, p.Metric.Value)
	}
	if len(res.Causes) > 0 {
		fmt.Fprintf(b, "\nCauses:\n")
		for _, c := range res.Causes {
			fmt.Fprintf(b, "   * %s\n", c)
		}
	}

	for _, p := range res.Phases {
		writePhase(b, p)
	}

	writeSettings(b, res.Settings)

	_, err := io.WriteString(w, b.String())
	return err
}

func writePhase(b *strings.Builder, p *runner.TestResult) {
	fmt.Fprintf(b, "\n"+rule)
	fmt.Fprintf(b, "Phase: %s\n", p.PhaseID)
	fmt.Fprintf(b, rule)
	fmt.Fprintf(b, "Valid / Pass         : %t / %t\n", p.Valid, p.Pass)
	fmt.Fprintf(b, "Stop reason          : %s\n", p.Stop)
	fmt.Fprintf(b, "Duration             : %s\n", p.Duration.Round(time.Millisecond))
	fmt.Fprintf(b, "Issued queries       : %d\n", p.IssuedQueries)
	fmt.Fprintf(b, "Issued samples       : %d\n", p.IssuedSamples)
	fmt.Fprintf(b, "Completed queries    : %d\n", p.CompletedQueries)
	fmt.Fprintf(b, "Completed samples    : %d\n", p.CompletedSamples)
	if p.TargetQPS > 0 {
		fmt.Fprintf(b, "Target QPS           : %.2f\n", p.TargetQPS)
	}
	fmt.Fprintf(b, "Scheduled QPS        : %.2f\n", p.ScheduledQPS)
	fmt.Fprintf(b, "QPS w/ overhead      : %.2f\n", p.QPS)
	fmt.Fprintf(b, "QPS w/o overhead     : %.2f\n", p.QPSWithoutOverhead)
	if p.Scenario == settings.MultiStream {
		fmt.Fprintf(b, "Missed queries       : %d\n", p.MissedQueries)
		fmt.Fprintf(b, "Skipped intervals    : %d\n", p.SkippedIntervals)
	}
	if p.Coalesced > 0 {
		fmt.Fprintf(b, "Coalesced arrivals   : %d\n", p.Coalesced)
	}
	if p.TargetRateMissed {
		fmt.Fprintf(b, "Target rate missed   : true\n")
	}
	if p.TargetLatency > 0 {
		fmt.Fprintf(b, "Target latency       : %s at p%g\n", p.TargetLatency, p.TargetPercentile*100)
	}
	fmt.Fprintf(b, "Target value         : %s\n", p.TargetValue)

	l := p.Latency
	fmt.Fprintf(b, "\nLatency (ns)\n")
	fmt.Fprintf(b, "   Min  : %d\n", l.Min.Nanoseconds())
	fmt.Fprintf(b, "   Mean : %d\n", l.Mean.Nanoseconds())
	fmt.Fprintf(b, "   Max  : %d\n", l.Max.Nanoseconds())
	for _, q := range l.Percentiles {
		fmt.Fprintf(b, "   %-5s: %d\n", fmt.Sprintf("p%g", q.Q*100), q.Value.Nanoseconds())
	}
	if p.Scenario == settings.MultiStream {
		fmt.Fprintf(b, "\nQuery latency (ns)\n")
		for _, q := range l.QueryPercentiles {
			fmt.Fprintf(b, "   %-5s: %d\n", fmt.Sprintf("p%g", q.Q*100), q.Value.Nanoseconds())
		}
	}
	fmt.Fprintf(b, "\nSchedule lag mean/max : %s / %s\n", l.QueueWaitMean, l.QueueWaitMax)

	if v := p.Violations; v.Total() > 0 {
		fmt.Fprintf(b, "Violations           : %d unknown, %d duplicate, %d late (first id %d)\n", v.Unknown, v.Duplicate, v.Late, v.FirstID)
	}
	if p.Outstanding > 0 {
		fmt.Fprintf(b, "Never completed      : %d\n", p.Outstanding)
	}
	if p.TraceDropped > 0 {
		fmt.Fprintf(b, "Trace events dropped : %d\n", p.TraceDropped)
	}
}

func writeSettings(b *strings.Builder, s settings.TestSettings) {
	fmt.Fprintf(b, "\n"+rule)
	fmt.Fprintf(b, "Test Parameters Used\n")
	fmt.Fprintf(b, rule)
	fmt.Fprintf(b, "min_duration            : %s\n", s.MinDuration)
	fmt.Fprintf(b, "max_duration            : %s\n", s.MaxDuration)
	fmt.Fprintf(b, "min_query_count         : %d\n", s.MinQueryCount)
	fmt.Fprintf(b, "max_query_count         : %d\n", s.MaxQueryCount)
	fmt.Fprintf(b, "qsl_rng_seed            : %d\n", s.QSLSeed)
	fmt.Fprintf(b, "sample_index_rng_seed   : %d\n", s.SampleIndexSeed)
	fmt.Fprintf(b, "schedule_rng_seed       : %d\n", s.ScheduleSeed)
	fmt.Fprintf(b, "sample_index_mode       : %s\n", s.SampleIndexMode)
	fmt.Fprintf(b, "percentile_method       : %s\n", s.PercentileMethod)
	fmt.Fprintf(b, "max_async_queries       : %d\n", s.MaxAsyncQueries())
	fmt.Fprintf(b, "samples_per_query       : %d\n", s.SamplesPerQuery())
	fmt.Fprintf(b, "drain_timeout           : %s\n", s.Drain())
	switch s.Scenario {
	case settings.Server:
		fmt.Fprintf(b, "server_target_qps       : %g\n", s.ServerTargetQPS)
		fmt.Fprintf(b, "server_coalesce_queries : %t\n", s.ServerCoalesceQueries)
	case settings.MultiStream:
		fmt.Fprintf(b, "multi_stream_interval   : %s\n", s.MultiStreamInterval)
	case settings.Offline:
		fmt.Fprintf(b, "offline_expected_qps    : %g\n", s.OfflineExpectedQPS)
	}
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
