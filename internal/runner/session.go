package runner

import (
	"time"

	"steadybench/internal/completion"
	"steadybench/internal/metrics"
	"steadybench/internal/stats"
	"steadybench/internal/trace"
)

// session is the run-scoped state of one phase. Nothing in it outlives the
// phase, so several runners can share a process.
type session struct {
	phase   Phase
	queue   *completion.Queue
	stats   *stats.Stats
	trace   *trace.Producer // drain side only
	metrics *metrics.Metrics
	started time.Time
	target  float64
}

// Record implements completion.Sink. It runs on whichever goroutine is
// draining, never inside Complete.
func (s *session) Record(records []completion.Record) {
	s.stats.Record(records)
	s.metrics.ObserveCompletions(records)
	if s.trace == nil {
		return
	}
	for i := range records {
		r := &records[i]
		s.trace.Log(trace.Event{
			At:     r.Completed,
			Kind:   trace.KindSampleComplete,
			Query:  r.Entry.Query,
			Sample: r.ID,
			Value:  r.Completed - r.Entry.Issued,
		})
	}
}

// drain waits up to timeout for every issued sample to be recorded, then
// closes the queue. It returns the samples that never completed.
func (s *session) drain(timeout time.Duration) uint64 {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

wait:
	for {
		s.queue.Drain()
		if s.queue.Outstanding() == 0 {
			break
		}
		select {
		case <-deadline.C:
			break wait
		case <-s.stats.Notify():
		case <-tick.C:
		}
	}

	s.queue.Close()
	s.queue.Stop()
	return s.queue.Outstanding()
}

func (s *session) snapshot() StatsSnapshot {
	st := s.stats
	return StatsSnapshot{
		Phase:            s.phase,
		Elapsed:          time.Since(s.started),
		IssuedQueries:    loadU64(&st.IssuedQueries),
		IssuedSamples:    loadU64(&st.IssuedSamples),
		CompletedSamples: loadU64(&st.CompletedSamples),
		Inflight:         int64(s.queue.Outstanding()),
		TargetQPS:        s.target,
		P50Ms:            toMs(st.LiveQuantile(0.50, false)),
		P90Ms:            toMs(st.LiveQuantile(0.90, false)),
		P99Ms:            toMs(st.LiveQuantile(0.99, false)),
		MaxMs:            float64(st.SampleLatency.Max()) / 1e6,
		AvgQueueWaitMs:   toMs(st.QueueWaitAvg()),
	}
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
