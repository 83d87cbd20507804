package runner

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"steadybench/internal/clock"
	"steadybench/internal/completion"
	"steadybench/internal/qsl"
	"steadybench/internal/scenario"
	"steadybench/internal/settings"
	"steadybench/internal/stats"
	"steadybench/internal/stopping"
	"steadybench/internal/sut"
	"steadybench/internal/trace"
)

// snapshotInterval is how often live stats are pushed to Updates.
const snapshotInterval = 200 * time.Millisecond

type Runner struct {
	Cfg Config

	// Event Channel
	Updates StatsUpdateChan

	log    zerolog.Logger
	clock  clock.Clock
	tracer *trace.Logger
	events *trace.Producer // owned by the Run goroutine
	loader *qsl.Loader

	phase   atomic.Int32
	current atomic.Pointer[session]
	ran     atomic.Bool
}

func NewRunner(cfg Config, updates StatsUpdateChan) *Runner {
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}
	return &Runner{
		Cfg:     cfg,
		Updates: updates,
		log:     cfg.Logger.With().Str("component", "runner").Logger(),
	}
}

// Phase is the state the runner is in right now.
func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Runner) setPhase(p Phase) {
	prev := Phase(r.phase.Swap(int32(p)))
	if prev != p {
		r.Cfg.Metrics.SetPhase(prev.String(), false)
	}
	r.Cfg.Metrics.SetPhase(p.String(), true)
	if r.events != nil {
		r.events.Log(trace.Event{At: r.clock.Now(), Kind: trace.KindPhaseStart, Text: p.String()})
	}
	r.log.Debug().Stringer("phase", p).Msg("phase")
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) sendUpdate() {
	sess := r.current.Load()
	if sess == nil {
		return
	}
	s := sess.snapshot()

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// Run executes every phase of the configured mode and finalizes exactly
// once. Settings errors are returned before any phase starts; everything
// that goes wrong later is reported through the Result. The returned error
// is then only about reporters.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.ran.CompareAndSwap(false, true) {
		return nil, errors.New("runner: Run called twice")
	}
	cfg := r.Cfg
	if err := validate(cfg); err != nil {
		return nil, err
	}

	w := cfg.Trace
	if w == nil {
		w = io.Discard
	}
	r.clock = clock.New()
	r.tracer = trace.New(w, cfg.Log.TraceBuffer)
	r.events = r.tracer.NewProducer("runner")
	r.loader = qsl.NewLoader(cfg.QSL, cfg.Settings.PerformanceSampleCount, cfg.Settings.QSLSeed, cfg.Logger)

	res := &Result{
		ID:       uuid.New().String(),
		Started:  r.clock.Start(),
		SUT:      cfg.SUT.Name(),
		QSL:      cfg.QSL.Name(),
		Settings: cfg.Settings,
	}
	r.log.Info().
		Str("run", res.ID).
		Str("scenario", string(cfg.Settings.Scenario)).
		Str("mode", string(cfg.Settings.Mode)).
		Str("sut", res.SUT).
		Msg("test started")
	r.events.Note(0, fmt.Sprintf("run %s scenario=%s mode=%s", res.ID, cfg.Settings.Scenario, cfg.Settings.Mode))

	tickCtx, stopTicks := context.WithCancel(ctx)
	r.StartTickLoop(tickCtx, snapshotInterval)

	for _, p := range phasesFor(cfg.Settings.Mode) {
		var fatal bool
		switch p {
		case Accuracy:
			tr := r.accuracy(ctx, cfg.Settings)
			res.Phases = append(res.Phases, tr)
			fatal = tr.fatal
		case Performance:
			tr := r.performance(ctx, Performance, cfg.Settings)
			res.Phases = append(res.Phases, tr)
			fatal = tr.fatal
		case PeakSearch:
			fatal = r.peakSearch(ctx, res)
		}
		if fatal {
			r.log.Error().Stringer("phase", p).Msg("fatal error, remaining phases skipped")
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	stopTicks()
	return res, r.finalize(res)
}

func validate(cfg Config) error {
	var result *multierror.Error
	if err := cfg.Settings.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := cfg.Log.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.SUT == nil {
		result = multierror.Append(result, fmt.Errorf("%w: no system under test", settings.ErrInvalidSettings))
	}
	if cfg.QSL == nil {
		result = multierror.Append(result, fmt.Errorf("%w: no sample library", settings.ErrInvalidSettings))
	} else if cfg.QSL.TotalSampleCount() <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: sample library %q is empty", settings.ErrInvalidSettings, cfg.QSL.Name()))
	}
	return result.ErrorOrNil()
}

func (r *Runner) newSession(p Phase, s settings.TestSettings, capacity int, retain bool) *session {
	sess := &session{
		phase:   p,
		stats:   stats.NewStats(),
		trace:   r.tracer.NewProducer(p.String() + ".complete"),
		metrics: r.Cfg.Metrics,
		started: time.Now(),
	}
	if s.Scenario == settings.Server {
		sess.target = s.ServerTargetQPS
	}
	sess.queue = completion.New(completion.Options{
		Capacity: capacity,
		Retain:   retain,
		Clock:    r.clock,
		Sink:     sess,
	})
	r.Cfg.Metrics.ResetInflight()
	sess.queue.Start()
	r.current.Store(sess)
	return sess
}

func (r *Runner) env(sess *session, s settings.TestSettings, ctrl *stopping.Controller, set []sut.SampleIndex) *scenario.Env {
	return &scenario.Env{
		Settings: s,
		Issuer: &scenario.Issuer{
			SUT:     r.Cfg.SUT,
			Queue:   sess.queue,
			Stats:   sess.stats,
			Clock:   r.clock,
			Trace:   r.events,
			Metrics: r.Cfg.Metrics,
		},
		Picker:     scenario.NewPicker(set, s.SampleIndexMode, s.SampleIndexSeed),
		Controller: ctrl,
	}
}

// performance runs one measured phase at settings s.
func (r *Runner) performance(ctx context.Context, p Phase, s settings.TestSettings) *TestResult {
	tr := newTestResult(p, s)

	r.setPhase(LoadSamples)
	set := r.loader.PerformanceSet()
	if err := r.loader.Load(set); err != nil {
		tr.abort(errors.Wrap(err, "performance"))
		return tr
	}

	sess := r.newSession(p, s, s.MaxInFlightSamples(), false)
	ctrl := stopping.New(s)
	env := r.env(sess, s, ctrl, r.loader.Loaded())

	r.setPhase(p)
	r.log.Info().Stringer("phase", p).Int("samples", len(set)).Float64("target_qps", sess.target).Msg("issuing")
	out, runErr := scenario.Run(ctx, env)
	r.closePhase(sess, s, tr, runErr)
	if err := r.loader.Unload(); err != nil {
		tr.abort(err)
	}

	sum := sess.stats.Summarize(s.PercentileMethod, s.TargetPercentile())
	tr.fill(sess, out, sum)
	tr.Samples = sess.stats.Samples()
	scoreScenario(tr, s, out, sum)

	switch out.Stop {
	case stopping.StopCancelled:
		tr.invalidate(errors.New("test cancelled"))
	case stopping.StopStalled:
		tr.invalidate(fmt.Errorf("%w: system under test stopped answering", ErrInsufficientEvidence))
	}
	duration := time.Duration(out.End - out.Start)
	if ok, causes := ctrl.Validate(tr.CompletedQueries, duration); !ok {
		for _, c := range causes {
			tr.invalidate(fmt.Errorf("%w: %s", ErrInsufficientEvidence, c))
		}
	}
	if s.Scenario == settings.Offline && sum.Span() < s.MinDuration {
		tr.invalidate(fmt.Errorf("%w: offline run lasted %s, %s required", ErrInsufficientEvidence, sum.Span().Round(time.Millisecond), s.MinDuration))
	}
	r.logPhase(tr)
	return tr
}

// accuracy issues every library sample exactly once, a working set at a
// time, and keeps the responses.
func (r *Runner) accuracy(ctx context.Context, s settings.TestSettings) *TestResult {
	tr := newTestResult(Accuracy, s)

	capacity := s.MaxInFlightSamples()
	if n := r.loader.PerformanceCount(); s.Scenario == settings.Offline && n > capacity {
		capacity = n
	}
	sess := r.newSession(Accuracy, s, capacity, true)
	env := r.env(sess, s, stopping.Unbounded(), nil)

	var out scenario.Outcome
	var runErr error
	var total uint64
	first := true
	for _, chunk := range r.loader.AccuracyChunks() {
		if ctx.Err() != nil {
			break
		}
		r.setPhase(LoadSamples)
		if err := r.loader.Load(chunk); err != nil {
			runErr = errors.Wrap(err, "accuracy")
			break
		}
		r.setPhase(Accuracy)
		o, err := scenario.RunAccuracy(ctx, env, chunk)
		if first {
			out.Start = o.Start
			first = false
		}
		out.End, out.Stop = o.End, o.Stop
		total += uint64(len(chunk))
		if err != nil {
			_ = r.loader.Unload()
			runErr = err
			break
		}

		// The chunk has to be fully answered before it is unloaded.
		wctx, cancel := context.WithTimeout(ctx, s.Drain())
		werr := sess.stats.WaitQueries(wctx, env.Issuer.Queries(), func() { sess.queue.Drain() })
		cancel()
		if err := r.loader.Unload(); err != nil {
			runErr = err
			break
		}
		if werr != nil || o.Stop != stopping.StopSatisfied {
			break
		}
	}
	r.closePhase(sess, s, tr, runErr)

	sum := sess.stats.Summarize(s.PercentileMethod, s.TargetPercentile())
	tr.fill(sess, out, sum)
	tr.Responses = sess.stats.Responses()
	tr.Metric = Metric{Name: "accuracy samples", Value: float64(len(tr.Responses))}
	if want := uint64(r.Cfg.QSL.TotalSampleCount()); tr.CompletedSamples != want || total != want {
		tr.invalidate(fmt.Errorf("%w: %d of %d accuracy samples completed", ErrInsufficientEvidence, tr.CompletedSamples, want))
	}
	if tr.Valid {
		tr.Pass = true
	}
	r.logPhase(tr)
	return tr
}

// peakSearch runs Server phases at increasing rates. It reports whether a
// fatal error ended the search.
func (r *Runner) peakSearch(ctx context.Context, res *Result) bool {
	s := r.Cfg.Settings
	search := stopping.NewPeakSearch(s.ServerTargetQPS, s.PeakSearchTolerance, s.PeakSearchMaxIterations)
	phase := Performance
	for {
		qps, ok := search.Next()
		if !ok || ctx.Err() != nil {
			break
		}
		tr := r.performance(ctx, phase, s.WithServerQPS(qps))
		res.Phases = append(res.Phases, tr)
		if tr.fatal {
			return true
		}
		search.Report(qps, tr.Pass)
		r.log.Info().Float64("qps", qps).Bool("pass", tr.Pass).Int("iteration", search.Iterations()).Msg("peak search")
		phase = PeakSearch
	}
	res.PeakQPS = search.Best()
	res.PeakConverged = search.Converged()

	// Only the best iteration keeps its raw samples.
	for _, p := range res.Phases {
		if !(p.Pass && p.TargetQPS == res.PeakQPS) {
			p.Samples = nil
		}
	}
	return false
}

// closePhase stops issuing, waits for stragglers and records every
// protocol problem on tr.
func (r *Runner) closePhase(sess *session, s settings.TestSettings, tr *TestResult, runErr error) {
	if err := flush(r.Cfg.SUT); err != nil {
		tr.abort(err)
	}
	timeout := s.Drain()
	if runErr != nil {
		// Issuing broke off mid-phase; there is nothing worth waiting for.
		timeout = 0
	}
	tr.Outstanding = sess.drain(timeout)
	r.current.Store(nil)

	tr.Violations = sess.queue.Violations()
	r.Cfg.Metrics.ObserveViolations(tr.Violations)
	if runErr != nil {
		r.events.Log(trace.Event{At: r.clock.Now(), Kind: trace.KindError, Text: runErr.Error()})
		tr.abort(runErr)
	}
	if err := sess.queue.Err(); err != nil {
		r.events.Log(trace.Event{At: r.clock.Now(), Kind: trace.KindViolation, Sample: tr.Violations.FirstID, Value: int64(tr.Violations.Total()), Text: err.Error()})
		tr.abort(err)
	}
	if tr.Outstanding > 0 {
		tr.invalidate(fmt.Errorf("%w: %d samples outstanding after %s drain timeout", completion.ErrProtocolViolation, tr.Outstanding, s.Drain()))
	}
	if n := atomic.LoadUint64(&sess.stats.NegativeLatency); n > 0 {
		tr.invalidate(fmt.Errorf("%w: %d negative latencies", completion.ErrProtocolViolation, n))
	}
	tr.TraceDropped = sess.trace.Dropped()
	r.events.Log(trace.Event{At: r.clock.Now(), Kind: trace.KindPhaseEnd, Value: int64(sess.stats.CompletedSamples), Text: tr.Phase.String()})
	// The next phase starts from a detail log holding everything before it.
	r.tracer.Flush()
}

func flush(s sut.SystemUnderTest) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: FlushQueries: %v", scenario.ErrSUTPanic, rec)
		}
	}()
	s.FlushQueries()
	return nil
}

func (r *Runner) logPhase(tr *TestResult) {
	ev := r.log.Info()
	if !tr.Valid {
		ev = r.log.Warn()
	}
	ev.Stringer("phase", tr.Phase).
		Uint64("samples", tr.CompletedSamples).
		Dur("duration", tr.Duration).
		Str("stop", tr.Stop).
		Str("metric", tr.Metric.Name).
		Float64("value", tr.Metric.Value).
		Bool("valid", tr.Valid).
		Bool("pass", tr.Pass).
		Strs("causes", tr.Causes).
		Msg("phase done")
}

// finalize flushes the trace, sets the verdict and runs the reporters.
func (r *Runner) finalize(res *Result) error {
	r.setPhase(Finalize)
	res.Finished = time.Now()

	res.Valid, res.Pass = len(res.Phases) > 0, len(res.Phases) > 0
	for _, p := range res.Phases {
		if p.fatal {
			res.Valid = false
		}
		res.Causes = append(res.Causes, prefixed(p)...)
	}
	if r.Cfg.Settings.Mode == settings.FindPeakPerformance {
		// Failing iterations are how the search finds its bound.
		res.Pass = res.Valid && res.PeakQPS > 0
		if res.PeakQPS == 0 {
			res.Causes = append(res.Causes, "peak search found no passing rate")
		}
	} else {
		for _, p := range res.Phases {
			res.Valid = res.Valid && p.Valid
			res.Pass = res.Pass && p.Pass
		}
	}
	res.Pass = res.Pass && res.Valid

	r.events.Log(trace.Event{At: r.clock.Now(), Kind: trace.KindNote, Text: fmt.Sprintf("result valid=%t pass=%t", res.Valid, res.Pass)})
	var result *multierror.Error
	if err := r.tracer.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close trace"))
	}
	for _, rep := range r.Cfg.Reporters {
		if err := rep.Report(res); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "report"))
		}
	}

	r.log.Info().Str("run", res.ID).Bool("valid", res.Valid).Bool("pass", res.Pass).Msg("test finished")
	r.setPhase(Idle)
	return result.ErrorOrNil()
}

func prefixed(p *TestResult) []string {
	out := make([]string, len(p.Causes))
	for i, c := range p.Causes {
		out[i] = p.PhaseID + ": " + c
	}
	return out
}

func newTestResult(p Phase, s settings.TestSettings) *TestResult {
	tr := &TestResult{
		Phase:            p,
		PhaseID:          p.String(),
		Scenario:         s.Scenario,
		Mode:             s.Mode,
		TargetPercentile: s.TargetPercentile(),
		TargetLatency:    s.TargetLatency(),
		Valid:            true,
	}
	if s.Scenario == settings.Server {
		tr.TargetQPS = s.ServerTargetQPS
	}
	return tr
}

// fill copies the counters common to every phase.
func (tr *TestResult) fill(sess *session, out scenario.Outcome, sum stats.Summary) {
	st := sess.stats
	tr.IssuedQueries = loadU64(&st.IssuedQueries)
	tr.IssuedSamples = loadU64(&st.IssuedSamples)
	tr.CompletedQueries = loadU64(&st.CompletedQueries)
	tr.CompletedSamples = loadU64(&st.CompletedSamples)
	tr.Duration = time.Duration(out.End - out.Start)
	tr.Stop = out.Stop.String()
	tr.Latency = sum
	tr.TargetValue = stats.At(sum.Percentiles, tr.TargetPercentile)
	tr.SkippedIntervals = out.SkippedIntervals
	tr.Coalesced = out.Coalesced
	tr.TargetRateMissed = out.TargetRateMissed

	if span := sum.Span().Seconds(); span > 0 {
		tr.QPS = float64(tr.CompletedSamples) / span
	}
	if d := tr.Duration.Seconds(); d > 0 {
		tr.ScheduledQPS = float64(tr.IssuedQueries) / d
	}
	if busy := st.BusyTime(); busy > 0 {
		tr.QPSWithoutOverhead = float64(tr.CompletedSamples) / busy.Seconds()
	}
}

// scoreScenario sets the headline metric and the pass verdict.
func scoreScenario(tr *TestResult, s settings.TestSettings, out scenario.Outcome, sum stats.Summary) {
	switch s.Scenario {
	case settings.SingleStream:
		tr.Metric = Metric{Name: fmt.Sprintf("p%g latency (ms)", s.SingleStreamTargetPercentile*100), Value: toMs(tr.TargetValue)}
		tr.Pass = s.SingleStreamTargetLatency <= 0 || tr.TargetValue <= s.SingleStreamTargetLatency
		if !tr.Pass {
			tr.Causes = append(tr.Causes, fmt.Sprintf("latency %s at p%g exceeds %s", tr.TargetValue, s.SingleStreamTargetPercentile*100, s.SingleStreamTargetLatency))
		}
	case settings.MultiStream:
		late := sum.QueriesLate(s.MultiStreamInterval)
		tr.MissedQueries = late + out.SkippedIntervals
		tr.TargetValue = stats.At(sum.QueryPercentiles, s.MultiStreamTargetPercentile)
		slots := tr.CompletedQueries + out.SkippedIntervals
		onTime := 0.0
		if slots > 0 {
			onTime = float64(tr.CompletedQueries-late) / float64(slots)
		}
		tr.Metric = Metric{Name: "on-time query fraction", Value: onTime}
		tr.Pass = onTime >= s.MultiStreamTargetPercentile
		if !tr.Pass {
			tr.Causes = append(tr.Causes, fmt.Sprintf("%d of %d intervals missed, on-time fraction %.4f below %g", tr.MissedQueries, slots, onTime, s.MultiStreamTargetPercentile))
		}
	case settings.Server:
		tr.Metric = Metric{Name: "scheduled qps", Value: tr.ScheduledQPS}
		tr.Pass = tr.TargetValue <= s.ServerTargetLatency && !out.TargetRateMissed
		if tr.TargetValue > s.ServerTargetLatency {
			tr.Causes = append(tr.Causes, fmt.Sprintf("latency %s at p%g exceeds %s", tr.TargetValue, s.ServerTargetPercentile*100, s.ServerTargetLatency))
		}
		if out.TargetRateMissed {
			tr.Causes = append(tr.Causes, fmt.Sprintf("target rate %g qps missed: in-flight bound %d reached", s.ServerTargetQPS, s.MaxAsyncQueries()))
		}
	case settings.Offline:
		tr.Metric = Metric{Name: "samples per second", Value: tr.QPS}
		tr.Pass = true
	}
	tr.Pass = tr.Pass && tr.Valid
}

func loadU64(p *uint64) uint64 {
	return atomic.LoadUint64(p)
}
