package scenario

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/clock"
	"steadybench/internal/completion"
	"steadybench/internal/settings"
	"steadybench/internal/stats"
	"steadybench/internal/stopping"
	"steadybench/internal/sut"
)

type fakeSUT struct {
	delay func(call int) time.Duration
	hold  bool

	mu         sync.Mutex
	calls      [][]sut.QuerySample
	issueTimes []time.Time

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (f *fakeSUT) Name() string  { return "fake" }
func (f *fakeSUT) FlushQueries() {}

func (f *fakeSUT) IssueQuery(samples []sut.QuerySample, done sut.Completer) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, samples)
	f.issueTimes = append(f.issueTimes, time.Now())
	f.mu.Unlock()

	n := f.inflight.Add(1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.hold {
		return
	}

	var d time.Duration
	if f.delay != nil {
		d = f.delay(call)
	}
	go func() {
		time.Sleep(d)
		resp := make([]sut.QuerySampleResponse, len(samples))
		for i, s := range samples {
			resp[i] = sut.QuerySampleResponse{ID: s.ID}
		}
		f.inflight.Add(-1)
		done.Complete(resp)
	}()
}

func (f *fakeSUT) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func loadedSet(n int) []sut.SampleIndex {
	out := make([]sut.SampleIndex, n)
	for i := range out {
		out[i] = sut.SampleIndex(i)
	}
	return out
}

func newEnv(t *testing.T, s settings.TestSettings, f *fakeSUT) *Env {
	t.Helper()
	require.NoError(t, s.Validate())
	st := stats.NewStats()
	clk := clock.New()
	q := completion.New(completion.Options{Capacity: s.MaxInFlightSamples(), Clock: clk, Sink: st})
	q.Start()
	t.Cleanup(q.Stop)
	return &Env{
		Settings:   s,
		Issuer:     &Issuer{SUT: f, Queue: q, Stats: st, Clock: clk},
		Picker:     NewPicker(loadedSet(64), s.SampleIndexMode, s.SampleIndexSeed),
		Controller: stopping.New(s),
	}
}

func waitDrained(t *testing.T, env *Env) {
	t.Helper()
	require.Eventually(t, func() bool {
		return env.Issuer.Queue.Outstanding() == 0
	}, 5*time.Second, time.Millisecond)
}

func arrivals(qps float64, seed uint64, n int) []int64 {
	p := NewPoisson(qps, seed)
	out := make([]int64, n)
	for i := range out {
		out[i] = p.Next()
	}
	return out
}

func TestPoisson_MeanInterArrival(t *testing.T) {
	const qps = 100.0
	const n = 200000
	at := arrivals(qps, 7, n)
	mean := float64(at[n-1]) / n
	assert.InEpsilon(t, float64(time.Second)/qps, mean, 0.01)
	for i := 1; i < n; i++ {
		require.GreaterOrEqual(t, at[i], at[i-1])
	}
}

func TestPoisson_Deterministic(t *testing.T) {
	assert.Equal(t, arrivals(50, 1, 100), arrivals(50, 1, 100))
	assert.NotEqual(t, arrivals(50, 1, 100), arrivals(50, 2, 100))
}

func TestPicker_Modes(t *testing.T) {
	set := loadedSet(5)

	seq := NewPicker(set, settings.IndexSequential, 1).Take(7)
	assert.Equal(t, []sut.SampleIndex{0, 1, 2, 3, 4, 0, 1}, seq)

	uniq := NewPicker(set, settings.IndexUnique, 1).Take(10)
	for _, round := range [][]sut.SampleIndex{uniq[:5], uniq[5:]} {
		assert.ElementsMatch(t, set, round, "each round is a permutation")
	}

	a := NewPicker(set, settings.IndexRandom, 9).Take(20)
	b := NewPicker(set, settings.IndexRandom, 9).Take(20)
	assert.Equal(t, a, b)
	for _, idx := range a {
		assert.Less(t, int(idx), 5)
	}

	assert.Equal(t, sut.SampleIndex(0), NewPicker(nil, settings.IndexRandom, 1).Next())
}

func TestSingleStream_OneInFlight(t *testing.T) {
	s := settings.Defaults()
	s.MinDuration = 50 * time.Millisecond
	s.MinQueryCount = 20
	f := &fakeSUT{delay: func(int) time.Duration { return 500 * time.Microsecond }}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, stopping.StopSatisfied, out.Stop)
	waitDrained(t, env)

	assert.Equal(t, int64(1), f.maxInflight.Load())
	assert.GreaterOrEqual(t, env.Issuer.Queries(), uint64(20))
	assert.Equal(t, env.Issuer.Stats.IssuedSamples, env.Issuer.Stats.CompletedSamples)
	for _, call := range f.calls {
		assert.Len(t, call, 1)
	}
}

func TestSingleStream_StalledSUT(t *testing.T) {
	s := settings.Defaults()
	s.MinDuration = 0
	s.MinQueryCount = 5
	s.DrainTimeout = 20 * time.Millisecond
	f := &fakeSUT{hold: true}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, stopping.StopStalled, out.Stop)
	assert.Equal(t, 1, f.callCount())
}

func TestMultiStream_BoundariesAndSkips(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.MultiStream
	s.MultiStreamInterval = 20 * time.Millisecond
	s.MultiStreamSamplesPerQuery = 4
	s.MinDuration = 300 * time.Millisecond
	s.MinQueryCount = 1
	s.MaxDuration = 2 * time.Second
	// Every third batch takes longer than an interval.
	f := &fakeSUT{delay: func(call int) time.Duration {
		if call%3 == 2 {
			return 30 * time.Millisecond
		}
		return time.Millisecond
	}}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	waitDrained(t, env)

	assert.Greater(t, out.SkippedIntervals, uint64(0))
	assert.Equal(t, int64(1), f.maxInflight.Load())
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, call := range f.calls {
		assert.Len(t, call, 4)
		if i > 0 {
			gap := f.issueTimes[i].Sub(f.issueTimes[i-1])
			assert.GreaterOrEqual(t, gap, s.MultiStreamInterval/2, "batch %d issued early", i)
		}
	}

	sum := env.Issuer.Stats.Summarize(settings.NearestRank, 0.99)
	assert.Greater(t, sum.QueriesLate(s.MultiStreamInterval), uint64(0), "slow batches are tallied as missed")
}

func TestServer_IssuesAtTargetRate(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.Server
	s.ServerTargetQPS = 1000
	s.ServerTargetLatency = 50 * time.Millisecond
	s.MinDuration = 300 * time.Millisecond
	s.MinQueryCount = 1
	s.MaxDuration = 3 * time.Second
	f := &fakeSUT{delay: func(int) time.Duration { return 200 * time.Microsecond }}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	waitDrained(t, env)

	assert.Equal(t, stopping.StopSatisfied, out.Stop)
	assert.False(t, out.TargetRateMissed)
	issued := float64(env.Issuer.Queries())
	elapsed := time.Duration(out.End - out.Start).Seconds()
	assert.InEpsilon(t, s.ServerTargetQPS, issued/elapsed, 0.25)
}

func TestServer_QueueDepthBound(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.Server
	s.ServerTargetQPS = 2000
	s.ServerMaxAsyncQueries = 5
	s.MinDuration = time.Second
	s.MaxDuration = 2 * time.Second
	f := &fakeSUT{hold: true}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, out.TargetRateMissed)
	assert.Equal(t, stopping.StopQueueDepth, out.Stop)
	assert.Equal(t, 5, f.callCount())
	assert.Equal(t, int64(5), f.maxInflight.Load())
}

func TestServer_Coalesce(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.Server
	s.ServerTargetQPS = 20000
	s.ServerCoalesceQueries = true
	s.MinDuration = 50 * time.Millisecond
	s.MinQueryCount = 1
	s.MaxDuration = time.Second
	f := &fakeSUT{delay: func(int) time.Duration { return 2 * time.Millisecond }}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	waitDrained(t, env)
	assert.Equal(t, env.Issuer.Queries()+out.Coalesced, env.Issuer.Stats.IssuedSamples)
}

func TestOffline_SingleQuery(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.Offline
	s.MinDuration = 0
	s.MinQueryCount = 1000
	f := &fakeSUT{delay: func(int) time.Duration { return time.Millisecond }}
	env := newEnv(t, s, f)

	out, err := Run(context.Background(), env)
	require.NoError(t, err)
	waitDrained(t, env)

	assert.Equal(t, stopping.StopSatisfied, out.Stop)
	require.Equal(t, 1, f.callCount())
	assert.Len(t, f.calls[0], 1000)
	assert.Equal(t, uint64(1000), env.Issuer.Stats.CompletedSamples)
}

func TestRun_Cancelled(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.Server
	s.ServerTargetQPS = 10
	env := newEnv(t, s, &fakeSUT{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Run(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, stopping.StopCancelled, out.Stop)
}

func TestRunAccuracy_EverySampleOnce(t *testing.T) {
	for _, sc := range settings.Scenarios {
		t.Run(string(sc), func(t *testing.T) {
			s := settings.Defaults()
			s.Scenario = sc
			s.MultiStreamSamplesPerQuery = 3
			s.MinQueryCount = 10
			f := &fakeSUT{delay: func(int) time.Duration { return 100 * time.Microsecond }}
			env := newEnv(t, s, f)
			env.Controller = stopping.Unbounded()

			indices := loadedSet(10)
			out, err := RunAccuracy(context.Background(), env, indices)
			require.NoError(t, err)
			assert.Equal(t, stopping.StopSatisfied, out.Stop)
			waitDrained(t, env)

			var got []sut.SampleIndex
			f.mu.Lock()
			for _, call := range f.calls {
				for _, smp := range call {
					got = append(got, smp.Index)
				}
			}
			f.mu.Unlock()
			assert.ElementsMatch(t, indices, got)
		})
	}
}
