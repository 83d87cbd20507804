package stopping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"steadybench/internal/settings"
)

func serverSettings() settings.TestSettings {
	s := settings.Defaults()
	s.Scenario = settings.Server
	s.ServerTargetQPS = 100
	s.ServerTargetLatency = 10 * time.Millisecond
	s.MinDuration = time.Second
	s.MinQueryCount = 100
	s.MaxDuration = 5 * time.Second
	return s
}

func TestController_NeedsDurationAndCount(t *testing.T) {
	c := New(serverSettings())
	fast := func() time.Duration { return time.Millisecond }

	assert.Equal(t, Continue, c.Decide(Progress{Elapsed: 500 * time.Millisecond, IssuedQueries: 1000, Latency: fast}))
	assert.Equal(t, Continue, c.Decide(Progress{Elapsed: 2 * time.Second, IssuedQueries: 50, Latency: fast}))
	assert.Equal(t, StopSatisfied, c.Decide(Progress{Elapsed: 2 * time.Second, IssuedQueries: 100, Latency: fast}))
}

func TestController_LatencyBoundKeepsRunning(t *testing.T) {
	c := New(serverSettings())
	slow := func() time.Duration { return time.Second }

	assert.Equal(t, Continue, c.Decide(Progress{Elapsed: 2 * time.Second, IssuedQueries: 500, Latency: slow}))
	assert.Equal(t, StopMaxDuration, c.Decide(Progress{Elapsed: 5 * time.Second, IssuedQueries: 500, Latency: slow}))
}

func TestController_LatencyCheckIsRateLimited(t *testing.T) {
	c := New(serverSettings())
	calls := 0
	lat := func() time.Duration { calls++; return time.Second }

	for i := 0; i < 100; i++ {
		c.Decide(Progress{Elapsed: 2*time.Second + time.Duration(i)*time.Microsecond, IssuedQueries: 500, Latency: lat})
	}
	assert.Equal(t, 1, calls)
	c.Decide(Progress{Elapsed: 3 * time.Second, IssuedQueries: 500, Latency: lat})
	assert.Equal(t, 2, calls)
}

func TestController_MaxQueries(t *testing.T) {
	s := serverSettings()
	s.MaxQueryCount = 200
	c := New(s)
	assert.Equal(t, StopMaxQueries, c.Decide(Progress{Elapsed: time.Millisecond, IssuedQueries: 200}))
}

func TestController_UnboundedSingleStream(t *testing.T) {
	s := settings.Defaults()
	s.MinDuration = time.Second
	s.MinQueryCount = 10
	c := New(s)
	assert.Equal(t, StopSatisfied, c.Decide(Progress{Elapsed: time.Second, IssuedQueries: 10}))
}

func TestController_ValidateInsufficientEvidence(t *testing.T) {
	s := serverSettings()
	s.MinQueryCount = 1000
	c := New(s)

	ok, causes := c.Validate(500, 5*time.Second)
	assert.False(t, ok)
	assert.Len(t, causes, 1)
	assert.Contains(t, causes[0], "500 queries completed")

	ok, causes = c.Validate(1000, 500*time.Millisecond)
	assert.False(t, ok)
	assert.Contains(t, causes[0], "ran 500ms")

	ok, causes = c.Validate(1000, 2*time.Second)
	assert.True(t, ok)
	assert.Empty(t, causes)
}

func TestController_OfflineHasNoMinimumDuration(t *testing.T) {
	s := settings.Defaults()
	s.Scenario = settings.Offline
	c := New(s)
	ok, _ := c.Validate(1, time.Millisecond)
	assert.True(t, ok)
}

func TestPeakSearch_DoublesThenBisects(t *testing.T) {
	const capacity = 330.0
	p := NewPeakSearch(100, 0.05, 20)

	var tried []float64
	for {
		qps, ok := p.Next()
		if !ok {
			break
		}
		tried = append(tried, qps)
		p.Report(qps, qps <= capacity)
	}

	assert.Equal(t, []float64{100, 200, 400, 300}, tried[:4])
	assert.True(t, p.Converged())
	assert.LessOrEqual(t, p.Best(), capacity)
	assert.Greater(t, p.Best(), capacity*0.95)
}

func TestPeakSearch_SearchesDownward(t *testing.T) {
	p := NewPeakSearch(100, 0.1, 20)
	for {
		qps, ok := p.Next()
		if !ok {
			break
		}
		p.Report(qps, qps <= 30)
	}
	assert.LessOrEqual(t, p.Best(), 30.0)
	assert.Greater(t, p.Best(), 27.0)
}

func TestPeakSearch_IterationBound(t *testing.T) {
	p := NewPeakSearch(1, 0.001, 3)
	n := 0
	for {
		qps, ok := p.Next()
		if !ok {
			break
		}
		n++
		p.Report(qps, true)
	}
	assert.Equal(t, 3, n)
	assert.False(t, p.Converged())
	assert.Equal(t, 4.0, p.Best())
}
