package stats

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"steadybench/internal/completion"
	"steadybench/internal/settings"
	"steadybench/internal/sut"
)

// Sample is one latency measurement, kept in the order completions were
// drained.
type Sample struct {
	Query     uint64
	ID        uint64
	Index     sut.SampleIndex
	Issued    int64
	Completed int64
}

func (s Sample) Latency() time.Duration {
	return time.Duration(s.Completed - s.Issued)
}

// Response is a retained payload for accuracy scoring.
type Response struct {
	ID    uint64
	Index sut.SampleIndex
	Data  []byte
}

type queryState struct {
	remaining int
	issued    int64
	scheduled int64
	last      int64
}

// Stats aggregates the measurements of one phase. Issue-side methods are
// called from the issuing goroutine; Record is called by the completion
// drainer. Counters are atomics so live readers never take the lock.
type Stats struct {
	IssuedQueries    uint64
	IssuedSamples    uint64
	CompletedSamples uint64
	CompletedQueries uint64
	NegativeLatency  uint64

	// Latency histograms (nanoseconds)
	SampleLatency *SafeHistogram
	QueryLatency  *SafeHistogram
	// Scheduling lag between the planned and the actual issue time
	QueueWait *SafeHistogram

	mu        sync.Mutex
	samples   []Sample
	queryLat  []int64
	lateness  []int64 // query completion minus its scheduled issue time
	queries   map[uint64]*queryState
	responses []Response
	first     int64
	last      int64
	sum       int64
	min       int64
	max       int64

	notify chan struct{}
}

func NewStats() *Stats {
	return &Stats{
		SampleLatency: NewSafeHistogram(),
		QueryLatency:  NewSafeHistogram(),
		QueueWait:     NewSafeHistogram(),
		queries:       make(map[uint64]*queryState),
		first:         -1,
		min:           math.MaxInt64,
		notify:        make(chan struct{}, 1),
	}
}

// AddQuery registers a query before it is handed to the SUT.
func (s *Stats) AddQuery(query uint64, samples int, issued, scheduled int64) {
	s.mu.Lock()
	s.queries[query] = &queryState{remaining: samples, issued: issued, scheduled: scheduled}
	if s.first < 0 || issued < s.first {
		s.first = issued
	}
	s.mu.Unlock()

	atomic.AddUint64(&s.IssuedQueries, 1)
	atomic.AddUint64(&s.IssuedSamples, uint64(samples))
	lag := issued - scheduled
	if lag < 0 {
		lag = 0
	}
	s.QueueWait.RecordValue(lag)
}

// Record implements completion.Sink.
func (s *Stats) Record(records []completion.Record) {
	s.mu.Lock()
	for i := range records {
		r := &records[i]
		lat := r.Completed - r.Entry.Issued
		if lat < 0 {
			// Monotonic timestamps make this impossible; count it rather
			// than record a negative latency.
			atomic.AddUint64(&s.NegativeLatency, 1)
			lat = 0
		}

		s.samples = append(s.samples, Sample{
			Query:     r.Entry.Query,
			ID:        r.ID,
			Index:     r.Entry.Index,
			Issued:    r.Entry.Issued,
			Completed: r.Entry.Issued + lat,
		})
		s.sum += lat
		if lat < s.min {
			s.min = lat
		}
		if lat > s.max {
			s.max = lat
		}
		if r.Completed > s.last {
			s.last = r.Completed
		}
		if r.Data != nil {
			s.responses = append(s.responses, Response{ID: r.ID, Index: r.Entry.Index, Data: r.Data})
		}
		s.SampleLatency.RecordValue(lat)
		atomic.AddUint64(&s.CompletedSamples, 1)

		q, ok := s.queries[r.Entry.Query]
		if !ok {
			continue
		}
		q.remaining--
		if r.Completed > q.last {
			q.last = r.Completed
		}
		if q.remaining == 0 {
			ql := q.last - q.issued
			if ql < 0 {
				ql = 0
			}
			s.queryLat = append(s.queryLat, ql)
			s.lateness = append(s.lateness, q.last-q.scheduled)
			s.QueryLatency.RecordValue(ql)
			delete(s.queries, r.Entry.Query)
			atomic.AddUint64(&s.CompletedQueries, 1)
		}
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify fires after every recorded batch. It is meant for a single waiter.
func (s *Stats) Notify() <-chan struct{} {
	return s.notify
}

// WaitQueries blocks until n queries have completed, poll is called before
// every check so the caller can drain synchronously.
func (s *Stats) WaitQueries(ctx context.Context, n uint64, poll func()) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		if poll != nil {
			poll()
		}
		if atomic.LoadUint64(&s.CompletedQueries) >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		case <-t.C:
		}
	}
}

// InflightQueries is issued minus completed queries.
func (s *Stats) InflightQueries() int64 {
	return int64(atomic.LoadUint64(&s.IssuedQueries)) - int64(atomic.LoadUint64(&s.CompletedQueries))
}

// LiveQuantile reads quantile q (0..1) from the histogram.
func (s *Stats) LiveQuantile(q float64, perQuery bool) time.Duration {
	h := s.SampleLatency
	if perQuery {
		h = s.QueryLatency
	}
	return time.Duration(h.ValueAtQuantile(q * 100))
}

// BusyTime is the summed latency of every completed query.
func (s *Stats) BusyTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, l := range s.queryLat {
		total += l
	}
	return time.Duration(total)
}

// QueueWaitAvg is the mean scheduling lag.
func (s *Stats) QueueWaitAvg() time.Duration {
	return time.Duration(s.QueueWait.Mean())
}

// Samples returns a copy of the recorded latency sequence.
func (s *Stats) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Responses returns the retained payloads.
func (s *Stats) Responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Response, len(s.responses))
	copy(out, s.responses)
	return out
}

// Span returns the first issue and last completion timestamps.
func (s *Stats) Span() (first, last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.first < 0 {
		return 0, 0
	}
	return s.first, s.last
}

// Summary is computed exactly from the recorded sequence at the end of a
// phase.
type Summary struct {
	Samples          uint64        `json:"samples"`
	Queries          uint64        `json:"queries"`
	Min              time.Duration `json:"min_ns"`
	Max              time.Duration `json:"max_ns"`
	Mean             time.Duration `json:"mean_ns"`
	Percentiles      []Quantile    `json:"percentiles"`
	QueryPercentiles []Quantile    `json:"query_percentiles"`
	QueryMax         time.Duration `json:"query_max_ns"`
	FirstIssue       int64         `json:"first_issue_ns"`
	LastCompletion   int64         `json:"last_completion_ns"`
	QueueWaitMean    time.Duration `json:"queue_wait_mean_ns"`
	QueueWaitMax     time.Duration `json:"queue_wait_max_ns"`

	sortedLateness []int64
}

// Span is last completion minus first issue.
func (s Summary) Span() time.Duration {
	return time.Duration(s.LastCompletion - s.FirstIssue)
}

// QueriesLate counts completed queries that finished more than bound after
// their scheduled issue time. Scheduling lag counts against the query.
func (s Summary) QueriesLate(bound time.Duration) uint64 {
	// sortedLateness is ascending; find the first element above bound.
	lo, hi := 0, len(s.sortedLateness)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.sortedLateness[mid] > int64(bound) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return uint64(len(s.sortedLateness) - lo)
}

// Summarize computes exact statistics. target is added to the reported
// quantiles when it is not already one of them.
func (s *Stats) Summarize(method settings.PercentileMethod, target float64) Summary {
	s.mu.Lock()
	lat := make([]int64, len(s.samples))
	for i, smp := range s.samples {
		lat[i] = smp.Completed - smp.Issued
	}
	ql := sortedCopy(s.queryLat)
	late := sortedCopy(s.lateness)
	sum, mn, mx := s.sum, s.min, s.max
	first, last := s.first, s.last
	s.mu.Unlock()

	sorted := sortedCopy(lat)
	out := Summary{
		Samples:          uint64(len(sorted)),
		Queries:          uint64(len(ql)),
		Percentiles:      quantiles(sorted, method, target),
		QueryPercentiles: quantiles(ql, method, target),
		QueueWaitMean:    time.Duration(s.QueueWait.Mean()),
		QueueWaitMax:     time.Duration(s.QueueWait.Max()),
		sortedLateness:   late,
	}
	if len(sorted) > 0 {
		out.Min = time.Duration(mn)
		out.Max = time.Duration(mx)
		out.Mean = time.Duration(sum / int64(len(sorted)))
	}
	if len(ql) > 0 {
		out.QueryMax = time.Duration(ql[len(ql)-1])
	}
	if first >= 0 {
		out.FirstIssue = first
		out.LastCompletion = last
	}
	return out
}
