// Package completion ingests "sample complete" notifications from SUT
// goroutines.
//
// The issue table is a fixed array indexed by sample id. Each slot holds a
// single atomic word packing (id << 2 | state), so claiming a completion is
// one compare-and-swap: no locks, no retry loops, and no allocation unless
// the response payload has to be retained. Claimed slots are published to a
// completion-order ring with one atomic add and one store. A drainer moves
// published records into the Sink off the calling goroutine.
package completion

import (
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"steadybench/internal/clock"
	"steadybench/internal/sut"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrCapacityExceeded  = errors.New("completion queue capacity exceeded")
)

const (
	stateFree uint64 = iota
	stateIssued
	stateCompleting
	stateCompleted

	stateBits = 2
	stateMask = 1<<stateBits - 1

	// MaxID is the largest sample id that fits in a slot word.
	MaxID = 1<<(64-stateBits) - 1

	spinRounds   = 64
	pollInterval = 50 * time.Microsecond
)

// Entry is what the issuer knows about an outstanding sample.
type Entry struct {
	Query     uint64
	Index     sut.SampleIndex
	Issued    int64 // run-relative ns
	Scheduled int64 // run-relative ns
}

// Record is a drained completion.
type Record struct {
	ID        uint64
	Entry     Entry
	Completed int64
	Data      []byte
}

// Latency is completion time minus issue time.
func (r Record) Latency() time.Duration {
	return time.Duration(r.Completed - r.Entry.Issued)
}

// Sink receives drained records. Calls are serialized; the slice is reused
// after the call returns.
type Sink interface {
	Record(records []Record)
}

type slot struct {
	word      atomic.Uint64
	entry     Entry
	completed int64
	data      []byte
}

// Violations counts protocol violations seen by Complete.
type Violations struct {
	Unknown   uint64
	Duplicate uint64
	Late      uint64
	FirstID   uint64
}

func (v Violations) Total() uint64 {
	return v.Unknown + v.Duplicate + v.Late
}

type Options struct {
	Capacity int
	// Retain copies response payloads for accuracy scoring.
	Retain bool
	Clock  clock.Clock
	Sink   Sink
}

type Queue struct {
	clock  clock.Clock
	retain bool
	sink   Sink

	mask  uint64
	slots []slot
	order []atomic.Uint64

	published atomic.Uint64
	issued    atomic.Uint64
	drained   atomic.Uint64
	closed    atomic.Bool

	unknown   atomic.Uint64
	duplicate atomic.Uint64
	late      atomic.Uint64
	firstBad  atomic.Uint64

	drainMu sync.Mutex
	head    uint64
	batch   []Record

	stop chan struct{}
	done chan struct{}
}

func New(opts Options) *Queue {
	size := opts.Capacity
	if size < 1 {
		size = 1
	}
	size = 1 << bits.Len(uint(size-1))

	return &Queue{
		clock:  opts.Clock,
		retain: opts.Retain,
		sink:   opts.Sink,
		mask:   uint64(size - 1),
		slots:  make([]slot, size),
		order:  make([]atomic.Uint64, size),
		batch:  make([]Record, 0, 256),
	}
}

func (q *Queue) Capacity() int {
	return len(q.slots)
}

// Fits reports whether the n consecutive ids starting at first map to free
// slots.
func (q *Queue) Fits(first uint64, n int) bool {
	if n > len(q.slots) {
		return false
	}
	for i := 0; i < n; i++ {
		if q.slots[(first+uint64(i))&q.mask].word.Load()&stateMask != stateFree {
			return false
		}
	}
	return true
}

// Issue registers an outstanding sample. It must only be called from the
// issuing goroutine, before the sample is handed to the SUT. Ids must be
// non-zero and strictly increasing.
func (q *Queue) Issue(id uint64, e Entry) error {
	if id == 0 || id > MaxID {
		return fmt.Errorf("%w: sample id %d out of range", ErrProtocolViolation, id)
	}
	s := &q.slots[id&q.mask]
	if s.word.Load()&stateMask != stateFree {
		return fmt.Errorf("%w: %d samples in flight", ErrCapacityExceeded, q.Outstanding())
	}
	s.entry = e
	s.completed = 0
	s.data = nil
	s.word.Store(id<<stateBits | stateIssued)
	q.issued.Add(1)
	return nil
}

// Complete implements sut.Completer. It is wait-free: every response costs
// a bounded number of atomic operations regardless of other goroutines.
func (q *Queue) Complete(responses []sut.QuerySampleResponse) {
	for i := range responses {
		r := &responses[i]
		if q.closed.Load() {
			q.late.Add(1)
			q.noteViolation(r.ID)
			continue
		}
		if r.ID == 0 || r.ID > MaxID {
			q.unknown.Add(1)
			q.noteViolation(r.ID)
			continue
		}

		s := &q.slots[r.ID&q.mask]
		if !s.word.CompareAndSwap(r.ID<<stateBits|stateIssued, r.ID<<stateBits|stateCompleting) {
			if s.word.Load()>>stateBits == r.ID {
				q.duplicate.Add(1)
			} else {
				q.unknown.Add(1)
			}
			q.noteViolation(r.ID)
			continue
		}

		if q.retain && len(r.Data) > 0 {
			s.data = append([]byte(nil), r.Data...)
		}
		// Taken after the copy: the copy is part of what the SUT pays for.
		s.completed = q.clock.Now()
		s.word.Store(r.ID<<stateBits | stateCompleted)

		pos := q.published.Add(1) - 1
		q.order[pos&q.mask].Store(r.ID)
	}
}

func (q *Queue) noteViolation(id uint64) {
	q.firstBad.CompareAndSwap(0, id)
}

// Drain moves every published completion into the sink and releases their
// slots. It returns the number of records drained.
func (q *Queue) Drain() int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	total := 0
	for {
		idx := q.head & q.mask
		id := q.order[idx].Load()
		if id == 0 {
			break
		}
		q.order[idx].Store(0)
		q.head++

		s := &q.slots[id&q.mask]
		q.batch = append(q.batch, Record{
			ID:        id,
			Entry:     s.entry,
			Completed: s.completed,
			Data:      s.data,
		})
		s.data = nil
		s.word.Store(id<<stateBits | stateFree)

		if len(q.batch) == cap(q.batch) {
			total += q.flushBatch()
		}
	}
	total += q.flushBatch()
	return total
}

func (q *Queue) flushBatch() int {
	n := len(q.batch)
	if n == 0 {
		return 0
	}
	if q.sink != nil {
		q.sink.Record(q.batch)
	}
	for i := range q.batch {
		q.batch[i] = Record{}
	}
	q.batch = q.batch[:0]
	q.drained.Add(uint64(n))
	return n
}

// Start runs the background drainer until Stop.
func (q *Queue) Start() {
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	go q.drainLoop()
}

// Stop halts the background drainer and drains whatever is left.
func (q *Queue) Stop() {
	if q.stop != nil {
		close(q.stop)
		<-q.done
		q.stop = nil
	}
	q.Drain()
}

func (q *Queue) drainLoop() {
	defer close(q.done)
	idle := 0
	for {
		select {
		case <-q.stop:
			return
		default:
		}
		if q.Drain() > 0 {
			idle = 0
			continue
		}
		idle++
		if idle < spinRounds {
			runtime.Gosched()
		} else {
			time.Sleep(pollInterval)
		}
	}
}

// Close rejects every later completion as a protocol violation.
func (q *Queue) Close() {
	q.closed.Store(true)
}

func (q *Queue) Issued() uint64 { return q.issued.Load() }

func (q *Queue) Drained() uint64 { return q.drained.Load() }

// Outstanding is the number of issued samples not yet drained.
func (q *Queue) Outstanding() uint64 {
	return q.issued.Load() - q.drained.Load()
}

func (q *Queue) Violations() Violations {
	return Violations{
		Unknown:   q.unknown.Load(),
		Duplicate: q.duplicate.Load(),
		Late:      q.late.Load(),
		FirstID:   q.firstBad.Load(),
	}
}

// Err summarizes the violations seen so far, or nil.
func (q *Queue) Err() error {
	v := q.Violations()
	if v.Total() == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d unknown, %d duplicate, %d late completions (first id %d)",
		ErrProtocolViolation, v.Unknown, v.Duplicate, v.Late, v.FirstID)
}
