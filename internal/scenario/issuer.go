package scenario

import (
	"errors"
	"fmt"
	"time"

	"steadybench/internal/clock"
	"steadybench/internal/completion"
	"steadybench/internal/metrics"
	"steadybench/internal/stats"
	"steadybench/internal/sut"
	"steadybench/internal/trace"
)

var ErrSUTPanic = errors.New("system under test panicked")

// lagLogThreshold is the scheduling lag above which an issue is traced.
const lagLogThreshold = 1_000_000 // 1ms

// Issuer assigns ids, timestamps queries and hands them to the SUT. It is
// owned by the issuing goroutine.
type Issuer struct {
	SUT   sut.SystemUnderTest
	Queue *completion.Queue
	Stats *stats.Stats
	Clock clock.Clock
	Trace *trace.Producer
	// Metrics may be nil.
	Metrics *metrics.Metrics

	nextID    uint64
	nextQuery uint64
}

// Queries is the number of queries issued so far.
func (is *Issuer) Queries() uint64 {
	return is.nextQuery
}

// Fits reports whether a query of n samples can be registered right now.
func (is *Issuer) Fits(n int) bool {
	return is.Queue.Fits(is.nextID+1, n)
}

// Issue sends one query made of indices. scheduled is the run-relative time
// the query was meant to go out. Nothing is registered when the completion
// queue cannot hold the whole query.
func (is *Issuer) Issue(indices []sut.SampleIndex, scheduled int64) error {
	if !is.Fits(len(indices)) {
		return fmt.Errorf("%w: query of %d samples with %d in flight", completion.ErrCapacityExceeded, len(indices), is.Queue.Outstanding())
	}
	samples := make([]sut.QuerySample, len(indices))
	is.nextQuery++
	query := is.nextQuery

	now := is.Clock.Now()
	for i, idx := range indices {
		is.nextID++
		samples[i] = sut.QuerySample{ID: is.nextID, Index: idx}
		err := is.Queue.Issue(is.nextID, completion.Entry{
			Query:     query,
			Index:     idx,
			Issued:    now,
			Scheduled: scheduled,
		})
		if err != nil {
			return err
		}
	}
	is.Stats.AddQuery(query, len(samples), now, scheduled)
	is.Metrics.ObserveIssue(len(samples), time.Duration(now-scheduled))

	if is.Trace != nil {
		is.Trace.Log(trace.Event{At: now, Kind: trace.KindQueryIssued, Query: query, Value: int64(len(samples))})
		if lag := now - scheduled; lag > lagLogThreshold {
			is.Trace.Log(trace.Event{At: now, Kind: trace.KindScheduleLag, Query: query, Value: lag})
		}
	}
	return is.dispatch(samples)
}

func (is *Issuer) dispatch(samples []sut.QuerySample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: IssueQuery: %v", ErrSUTPanic, r)
		}
	}()
	is.SUT.IssueQuery(samples, is.Queue)
	return nil
}
