package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/completion"
	"steadybench/internal/settings"
	"steadybench/internal/sut"
)

func rec(query, id uint64, issued, completed int64) completion.Record {
	return completion.Record{
		ID:        id,
		Entry:     completion.Entry{Query: query, Index: sut.SampleIndex(id), Issued: issued},
		Completed: completed,
	}
}

func TestStats_QueryCompletesWithLastSample(t *testing.T) {
	s := NewStats()
	s.AddQuery(1, 3, 100, 100)
	assert.Equal(t, int64(1), s.InflightQueries())

	s.Record([]completion.Record{rec(1, 1, 100, 150), rec(1, 2, 100, 400)})
	assert.Equal(t, uint64(0), s.CompletedQueries)
	s.Record([]completion.Record{rec(1, 3, 100, 300)})
	assert.Equal(t, uint64(1), s.CompletedQueries)
	assert.Equal(t, uint64(3), s.CompletedSamples)
	assert.Equal(t, int64(0), s.InflightQueries())

	sum := s.Summarize(settings.NearestRank, 0.9)
	assert.Equal(t, uint64(3), sum.Samples)
	assert.Equal(t, uint64(1), sum.Queries)
	assert.Equal(t, 50*time.Nanosecond, sum.Min)
	assert.Equal(t, 300*time.Nanosecond, sum.Max)
	assert.Equal(t, 183*time.Nanosecond, sum.Mean)
	assert.Equal(t, 300*time.Nanosecond, sum.QueryMax, "query latency is its slowest sample")
	assert.Equal(t, int64(100), sum.FirstIssue)
	assert.Equal(t, int64(400), sum.LastCompletion)
	assert.Equal(t, 300*time.Nanosecond, sum.Span())
}

func TestStats_SamplesKeepDrainOrder(t *testing.T) {
	s := NewStats()
	s.AddQuery(1, 1, 0, 0)
	s.AddQuery(2, 1, 10, 10)
	s.Record([]completion.Record{rec(2, 2, 10, 20), rec(1, 1, 0, 30)})

	samples := s.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, uint64(2), samples[0].ID)
	assert.Equal(t, uint64(1), samples[1].ID)
	for _, smp := range samples {
		assert.GreaterOrEqual(t, smp.Latency(), time.Duration(0))
	}
}

func TestStats_NegativeLatencyIsClamped(t *testing.T) {
	s := NewStats()
	s.AddQuery(1, 1, 100, 100)
	s.Record([]completion.Record{rec(1, 1, 100, 90)})
	assert.Equal(t, uint64(1), s.NegativeLatency)
	assert.Equal(t, time.Duration(0), s.Samples()[0].Latency())
}

func TestStats_QueueWait(t *testing.T) {
	s := NewStats()
	s.AddQuery(1, 1, 1000, 0)
	s.AddQuery(2, 1, 3000, 0)
	assert.InDelta(t, 2000, float64(s.QueueWaitAvg()), 10)
}

func TestStats_RetainsResponses(t *testing.T) {
	s := NewStats()
	s.AddQuery(1, 1, 0, 0)
	r := rec(1, 5, 0, 1)
	r.Data = []byte{1, 2}
	s.Record([]completion.Record{r})

	resp := s.Responses()
	require.Len(t, resp, 1)
	assert.Equal(t, sut.SampleIndex(5), resp[0].Index)
	assert.Equal(t, []byte{1, 2}, resp[0].Data)
}

func TestSummary_QueriesLate(t *testing.T) {
	s := NewStats()
	for i := uint64(1); i <= 10; i++ {
		s.AddQuery(i, 1, 0, 0)
		s.Record([]completion.Record{rec(i, i, 0, int64(i*10))})
	}
	sum := s.Summarize(settings.NearestRank, 0.99)
	assert.Equal(t, uint64(3), sum.QueriesLate(70))
	assert.Equal(t, uint64(0), sum.QueriesLate(100))
	assert.Equal(t, uint64(10), sum.QueriesLate(0))
}

func TestSummary_QueriesLateCountsSchedulingLag(t *testing.T) {
	s := NewStats()
	// Scheduled at 0, issued 50 late, done at 120: 70 of latency but 120
	// past the boundary.
	s.AddQuery(1, 1, 50, 0)
	s.Record([]completion.Record{rec(1, 1, 50, 120)})
	// On time: scheduled at 100, done at 180.
	s.AddQuery(2, 1, 100, 100)
	s.Record([]completion.Record{rec(2, 2, 100, 180)})

	sum := s.Summarize(settings.NearestRank, 0.99)
	assert.Equal(t, time.Duration(80), sum.QueryMax)
	assert.Equal(t, uint64(1), sum.QueriesLate(100))
}

func TestStats_LiveQuantile(t *testing.T) {
	s := NewStats()
	for i := uint64(1); i <= 100; i++ {
		s.AddQuery(i, 1, 0, 0)
		s.Record([]completion.Record{rec(i, i, 0, int64(i)*int64(time.Millisecond))})
	}
	assert.InDelta(t, float64(90*time.Millisecond), float64(s.LiveQuantile(0.9, false)), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(s.LiveQuantile(0.99, true)), float64(time.Millisecond))
}

func TestStats_WaitQueries(t *testing.T) {
	s := NewStats()
	s.AddQuery(1, 1, 0, 0)

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Record([]completion.Record{rec(1, 1, 0, 1)})
	}()
	require.NoError(t, s.WaitQueries(context.Background(), 1, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitQueries(ctx, 2, nil), context.DeadlineExceeded)
}
