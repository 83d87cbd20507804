// Package scenario implements the four traffic policies. Each one issues
// queries through an Issuer and asks the stopping controller before every
// step whether it may continue.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steadybench/internal/settings"
	"steadybench/internal/stopping"
	"steadybench/internal/sut"
	"steadybench/internal/trace"
)

// spinThreshold is how close to a deadline the schedulers stop sleeping on
// a timer and poll instead.
const spinThreshold = 100 * time.Microsecond

// Env is everything a scheduler needs for one phase.
type Env struct {
	Settings   settings.TestSettings
	Issuer     *Issuer
	Picker     *Picker
	Controller *stopping.Controller
}

// Outcome describes how issuing ended.
type Outcome struct {
	Stop stopping.Decision
	// Start and End bracket the issuing loop, run-relative ns.
	Start int64
	End   int64
	// TargetRateMissed marks a Server phase that hit its queue depth bound.
	TargetRateMissed bool
	// SkippedIntervals counts MultiStream boundaries passed over because
	// the in-flight bound was reached.
	SkippedIntervals uint64
	// Coalesced counts Server arrivals folded into an earlier query.
	Coalesced uint64
}

// Run dispatches to the scheduler of the configured scenario.
func Run(ctx context.Context, env *Env) (Outcome, error) {
	switch env.Settings.Scenario {
	case settings.SingleStream:
		return runSingleStream(ctx, env)
	case settings.MultiStream:
		return runMultiStream(ctx, env)
	case settings.Server:
		return runServer(ctx, env)
	case settings.Offline:
		return runOffline(ctx, env)
	default:
		return Outcome{}, fmt.Errorf("%w: scenario %q", settings.ErrInvalidSettings, env.Settings.Scenario)
	}
}

func (e *Env) now() int64 {
	return e.Issuer.Clock.Now()
}

func (e *Env) decide(start int64) stopping.Decision {
	perQuery := e.Settings.Scenario == settings.MultiStream
	q := e.Settings.TargetPercentile()
	return e.Controller.Decide(stopping.Progress{
		Elapsed:       time.Duration(e.now() - start),
		IssuedQueries: e.Issuer.Queries(),
		Latency: func() time.Duration {
			return e.Issuer.Stats.LiveQuantile(q, perQuery)
		},
	})
}

func (e *Env) stop(out Outcome, d stopping.Decision) Outcome {
	out.Stop = d
	out.End = e.now()
	if e.Issuer.Trace != nil {
		e.Issuer.Trace.Log(trace.Event{At: out.End, Kind: trace.KindStop, Value: int64(e.Issuer.Queries()), Text: d.String()})
	}
	return out
}

// sleepUntil waits for the run-relative instant at, spinning for the last
// stretch so timer slack does not skew the schedule.
func (e *Env) sleepUntil(ctx context.Context, at int64) bool {
	c := e.Issuer.Clock
	if d := c.Until(at); d > spinThreshold {
		if !c.SleepUntil(at-int64(spinThreshold), ctx.Done()) {
			return false
		}
	}
	for c.Now() < at {
		if ctx.Err() != nil {
			return false
		}
	}
	return true
}

// waitTimeout bounds a closed-loop wait.
func (e *Env) waitTimeout(start int64) time.Duration {
	d := e.Settings.Drain()
	if max := e.Settings.MaxDuration; max > 0 {
		if left := max - time.Duration(e.now()-start); left > 0 {
			d += left
		}
	}
	return d
}

// waitInflight blocks until at most limit queries are in flight.
func (e *Env) waitInflight(ctx context.Context, start int64, limit int) (stopping.Decision, error) {
	issued := e.Issuer.Queries()
	if issued <= uint64(limit) {
		return stopping.Continue, nil
	}
	wctx, cancel := context.WithTimeout(ctx, e.waitTimeout(start))
	defer cancel()
	err := e.Issuer.Stats.WaitQueries(wctx, issued-uint64(limit), func() { e.Issuer.Queue.Drain() })
	switch {
	case err == nil:
		return stopping.Continue, nil
	case ctx.Err() != nil:
		return stopping.StopCancelled, nil
	case errors.Is(err, context.DeadlineExceeded):
		return stopping.StopStalled, nil
	default:
		return stopping.Continue, err
	}
}

// SingleStream: one sample at a time, the next goes out once the previous
// completion has been recorded.
func runSingleStream(ctx context.Context, env *Env) (Outcome, error) {
	start := env.now()
	out := Outcome{Start: start}
	for {
		if ctx.Err() != nil {
			return env.stop(out, stopping.StopCancelled), nil
		}
		if d := env.decide(start); d != stopping.Continue {
			return env.stop(out, d), nil
		}
		if err := env.Issuer.Issue([]sut.SampleIndex{env.Picker.Next()}, env.now()); err != nil {
			return env.stop(out, stopping.Continue), err
		}
		d, err := env.waitInflight(ctx, start, 0)
		if err != nil || d != stopping.Continue {
			return env.stop(out, d), err
		}
	}
}

// MultiStream: a batch at every interval boundary. A boundary is skipped
// when the in-flight bound is reached; it never delays later boundaries.
func runMultiStream(ctx context.Context, env *Env) (Outcome, error) {
	s := env.Settings
	interval := int64(s.MultiStreamInterval)
	maxAsync := int64(s.MultiStreamMaxAsyncQueries)

	start := env.now()
	out := Outcome{Start: start}
	for k := int64(0); ; k++ {
		boundary := start + k*interval
		if !env.sleepUntil(ctx, boundary) {
			return env.stop(out, stopping.StopCancelled), nil
		}
		if d := env.decide(start); d != stopping.Continue {
			return env.stop(out, d), nil
		}
		env.Issuer.Queue.Drain()
		if env.Issuer.Stats.InflightQueries() >= maxAsync {
			out.SkippedIntervals++
			continue
		}
		if err := env.Issuer.Issue(env.Picker.Take(s.MultiStreamSamplesPerQuery), boundary); err != nil {
			return env.stop(out, stopping.Continue), err
		}
	}
}

// Server: open-loop Poisson arrivals. Queries pile up in the SUT when it is
// slower than the schedule; reaching the in-flight bound ends the phase as
// a missed target rate rather than blocking.
func runServer(ctx context.Context, env *Env) (Outcome, error) {
	s := env.Settings
	sched := NewPoisson(s.ServerTargetQPS, s.ScheduleSeed)
	maxAsync := int64(s.MaxAsyncQueries())

	start := env.now()
	out := Outcome{Start: start}
	next := start + sched.Next()
	for {
		if !env.sleepUntil(ctx, next) {
			return env.stop(out, stopping.StopCancelled), nil
		}
		if d := env.decide(start); d != stopping.Continue {
			return env.stop(out, d), nil
		}

		scheduled := next
		count := 1
		next = start + sched.Next()
		if s.ServerCoalesceQueries {
			for next <= env.now() {
				count++
				out.Coalesced++
				next = start + sched.Next()
			}
		}

		if env.full(maxAsync, count) {
			env.Issuer.Queue.Drain()
			if env.full(maxAsync, count) {
				out.TargetRateMissed = true
				return env.stop(out, stopping.StopQueueDepth), nil
			}
		}
		if err := env.Issuer.Issue(env.Picker.Take(count), scheduled); err != nil {
			return env.stop(out, stopping.Continue), err
		}
	}
}

// full reports whether issuing a query of n samples would exceed the
// in-flight query bound or the completion queue.
func (e *Env) full(maxAsync int64, n int) bool {
	return e.Issuer.Stats.InflightQueries() >= maxAsync || !e.Issuer.Fits(n)
}

// Offline: the whole sample set in a single query, no pacing.
func runOffline(ctx context.Context, env *Env) (Outcome, error) {
	start := env.now()
	out := Outcome{Start: start}
	if ctx.Err() != nil {
		return env.stop(out, stopping.StopCancelled), nil
	}
	n := int(env.Settings.OfflineSampleCount())
	if err := env.Issuer.Issue(env.Picker.Take(n), start); err != nil {
		return env.stop(out, stopping.Continue), err
	}
	return env.stop(out, stopping.StopSatisfied), nil
}

// RunAccuracy issues every index exactly once using the scenario's batch
// shape, without pacing. batch is the Offline query size.
func RunAccuracy(ctx context.Context, env *Env, indices []sut.SampleIndex) (Outcome, error) {
	s := env.Settings
	batch, maxAsync := 1, 1
	switch s.Scenario {
	case settings.MultiStream:
		batch = s.MultiStreamSamplesPerQuery
		maxAsync = s.MultiStreamMaxAsyncQueries
	case settings.Server:
		maxAsync = env.Issuer.Queue.Capacity()
	case settings.Offline:
		batch = len(indices)
	}
	if batch < 1 {
		batch = 1
	}

	start := env.now()
	out := Outcome{Start: start}
	for i := 0; i < len(indices); i += batch {
		if ctx.Err() != nil {
			return env.stop(out, stopping.StopCancelled), nil
		}
		d, err := env.waitInflight(ctx, start, maxAsync-1)
		if err != nil || d != stopping.Continue {
			return env.stop(out, d), err
		}
		end := i + batch
		if end > len(indices) {
			end = len(indices)
		}
		if err := env.Issuer.Issue(indices[i:end], env.now()); err != nil {
			return env.stop(out, stopping.Continue), err
		}
	}
	return env.stop(out, stopping.StopSatisfied), nil
}
