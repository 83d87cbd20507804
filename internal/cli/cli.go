// Package cli runs a test headless, printing a progress line while the
// runner works and a summary when it is done.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"steadybench/internal/runner"
)

type outcome struct {
	res *runner.Result
	err error
}

// Start runs cfg to completion. Progress goes to out; the returned
// result is the runner's.
func Start(ctx context.Context, cfg runner.Config, out io.Writer) (*runner.Result, error) {
	printHeader(out, cfg)

	updates := make(runner.StatsUpdateChan, 100)
	r := runner.NewRunner(cfg, updates)

	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(ctx)
		done <- outcome{res, err}
	}()

	// Faster updates for progress bar
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	target := cfg.Settings.MinDuration
	var last runner.StatsSnapshot
	for {
		select {
		case s := <-updates:
			last = s
		case <-ticker.C:
			if last.Phase == runner.Idle {
				continue
			}
			printProgress(out, last, target)
		case o := <-done:
			if o.res != nil {
				PrintSummary(out, o.res)
			}
			return o.res, o.err
		}
	}
}

func printHeader(out io.Writer, cfg runner.Config) {
	s := cfg.Settings
	fmt.Fprintf(out, "\n🚀 STARTING STEADYBENCH TEST\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "SUT        : %s\n", cfg.SUT.Name())
	fmt.Fprintf(out, "QSL        : %s (%d samples)\n", cfg.QSL.Name(), cfg.QSL.TotalSampleCount())
	fmt.Fprintf(out, "Scenario   : %s\n", s.Scenario)
	fmt.Fprintf(out, "Mode       : %s\n", s.Mode)
	fmt.Fprintf(out, "Duration   : %s min", s.MinDuration)
	if s.MaxDuration > 0 {
		fmt.Fprintf(out, ", %s max", s.MaxDuration)
	}
	fmt.Fprintf(out, "\nQueries    : %d min", s.MinQueryCount)
	if s.MaxQueryCount > 0 {
		fmt.Fprintf(out, ", %d max", s.MaxQueryCount)
	}
	fmt.Fprintf(out, "\n======================================================================\n\n")
}

func printProgress(out io.Writer, s runner.StatsSnapshot, target time.Duration) {
	pct := 1.0
	if target > 0 {
		pct = s.Elapsed.Seconds() / target.Seconds()
	}
	if pct > 1.0 {
		pct = 1.0
	}
	qps := 0.0
	if s.Elapsed > 0 {
		qps = float64(s.CompletedSamples) / s.Elapsed.Seconds()
	}
	fmt.Fprintf(out, "\r%-12s %s %3.0f%% | %s | Inf: %4d | QPS: %8.1f | Done: %d | P99: %.2fms   ",
		s.Phase, progressBar(pct, 20), pct*100,
		s.Elapsed.Round(time.Second),
		s.Inflight,
		qps,
		s.CompletedSamples,
		s.P99Ms,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary writes the headline numbers of res.
func PrintSummary(out io.Writer, res *runner.Result) {
	fmt.Fprintf(out, "\n\n📊 TEST RESULTS\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Run ID         : %s\n", res.ID)
	fmt.Fprintf(out, "Total Duration : %s\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
	fmt.Fprintf(out, "Result         : %s\n", verdict(res.Valid, "VALID", "INVALID"))
	fmt.Fprintf(out, "Pass           : %s\n", verdict(res.Pass, "YES", "NO"))
	if res.PeakQPS > 0 {
		fmt.Fprintf(out, "Peak QPS       : %.2f (converged: %t)\n", res.PeakQPS, res.PeakConverged)
	}

	if p := res.Primary(); p != nil {
		fmt.Fprintf(out, "%-14s : %.4f\n", p.Metric.Name, p.Metric.Value)
		fmt.Fprintf(out, "Samples Done   : %d / %d\n", p.CompletedSamples, p.IssuedSamples)
		if len(p.Latency.Percentiles) > 0 {
			fmt.Fprintf(out, "\n⏱️  LATENCY (ms)\n")
			for _, q := range p.Latency.Percentiles {
				fmt.Fprintf(out, "   P%-5g: %.3f\n", q.Q*100, ms(q.Value))
			}
			fmt.Fprintf(out, "   Max   : %.3f\n", ms(p.Latency.Max))
		}
	}

	if len(res.Causes) > 0 {
		fmt.Fprintf(out, "\n❌ WHY\n")
		for _, c := range res.Causes {
			fmt.Fprintf(out, "   %s\n", c)
		}
	}
	fmt.Fprintf(out, "======================================================================\n")
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return "✅ " + yes
	}
	return "❌ " + no
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
