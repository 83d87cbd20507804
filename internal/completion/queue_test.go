package completion

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/clock"
	"steadybench/internal/sut"
)

type collect struct {
	mu      sync.Mutex
	records []Record
}

func (c *collect) Record(rs []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rs {
		if r.Data != nil {
			r.Data = append([]byte(nil), r.Data...)
		}
		c.records = append(c.records, r)
	}
}

func (c *collect) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func newQueue(capacity int, retain bool) (*Queue, *collect) {
	c := &collect{}
	q := New(Options{Capacity: capacity, Retain: retain, Clock: clock.New(), Sink: c})
	return q, c
}

func TestQueue_CapacityRoundsUp(t *testing.T) {
	q, _ := newQueue(100, false)
	assert.Equal(t, 128, q.Capacity())
	q, _ = newQueue(1, false)
	assert.Equal(t, 1, q.Capacity())
}

func TestQueue_IssueCompleteDrain(t *testing.T) {
	q, c := newQueue(8, false)
	for id := uint64(1); id <= 4; id++ {
		require.NoError(t, q.Issue(id, Entry{Query: id, Index: sut.SampleIndex(id * 10), Issued: q.clock.Now()}))
	}
	assert.Equal(t, uint64(4), q.Outstanding())

	q.Complete([]sut.QuerySampleResponse{{ID: 2}, {ID: 1}})
	assert.Equal(t, 2, q.Drain())
	q.Complete([]sut.QuerySampleResponse{{ID: 4}, {ID: 3}})
	assert.Equal(t, 2, q.Drain())

	require.Len(t, c.records, 4)
	assert.Equal(t, []uint64{2, 1, 4, 3}, []uint64{c.records[0].ID, c.records[1].ID, c.records[2].ID, c.records[3].ID},
		"records come out in completion order")
	for _, r := range c.records {
		assert.GreaterOrEqual(t, r.Completed, r.Entry.Issued)
		assert.GreaterOrEqual(t, r.Latency(), time.Duration(0))
		assert.Equal(t, sut.SampleIndex(r.ID*10), r.Entry.Index)
	}
	assert.Equal(t, uint64(0), q.Outstanding())
	assert.NoError(t, q.Err())
}

func TestQueue_DuplicateIsViolation(t *testing.T) {
	q, c := newQueue(4, false)
	require.NoError(t, q.Issue(1, Entry{}))
	q.Complete([]sut.QuerySampleResponse{{ID: 1}})
	q.Complete([]sut.QuerySampleResponse{{ID: 1}}) // before drain
	q.Drain()
	q.Complete([]sut.QuerySampleResponse{{ID: 1}}) // after drain

	assert.Len(t, c.records, 1, "a duplicate must not be processed twice")
	v := q.Violations()
	assert.Equal(t, uint64(2), v.Duplicate)
	assert.Equal(t, uint64(1), v.FirstID)
	assert.True(t, errors.Is(q.Err(), ErrProtocolViolation))
}

func TestQueue_UnknownIsViolation(t *testing.T) {
	q, c := newQueue(4, false)
	require.NoError(t, q.Issue(1, Entry{}))
	q.Complete([]sut.QuerySampleResponse{{ID: 3}, {ID: 0}, {ID: MaxID + 1}})
	q.Drain()

	assert.Empty(t, c.records)
	assert.Equal(t, uint64(3), q.Violations().Unknown)
	assert.Equal(t, uint64(1), q.Outstanding())
}

func TestQueue_LateCompletionAfterClose(t *testing.T) {
	q, c := newQueue(4, false)
	require.NoError(t, q.Issue(1, Entry{}))
	q.Close()
	q.Complete([]sut.QuerySampleResponse{{ID: 1}})
	q.Drain()

	assert.Empty(t, c.records)
	assert.Equal(t, uint64(1), q.Violations().Late)
	assert.Error(t, q.Err())
}

func TestQueue_CapacityExceeded(t *testing.T) {
	q, _ := newQueue(2, false)
	require.NoError(t, q.Issue(1, Entry{}))
	require.NoError(t, q.Issue(2, Entry{}))
	err := q.Issue(3, Entry{})
	assert.True(t, errors.Is(err, ErrCapacityExceeded))

	q.Complete([]sut.QuerySampleResponse{{ID: 1}})
	q.Drain()
	assert.NoError(t, q.Issue(3, Entry{}), "slot is reusable once drained")
}

func TestQueue_Fits(t *testing.T) {
	q, _ := newQueue(4, false)
	assert.True(t, q.Fits(1, 4))
	assert.False(t, q.Fits(1, 5))

	require.NoError(t, q.Issue(1, Entry{}))
	assert.False(t, q.Fits(2, 4), "id 5 wraps onto the slot of id 1")
	assert.True(t, q.Fits(2, 3))
}

func TestQueue_RejectsZeroID(t *testing.T) {
	q, _ := newQueue(2, false)
	assert.True(t, errors.Is(q.Issue(0, Entry{}), ErrProtocolViolation))
}

func TestQueue_RetainCopiesPayload(t *testing.T) {
	q, c := newQueue(4, true)
	require.NoError(t, q.Issue(1, Entry{}))
	buf := []byte("cat")
	q.Complete([]sut.QuerySampleResponse{{ID: 1, Data: buf}})
	copy(buf, "dog") // the SUT reuses its buffer right away
	q.Drain()

	require.Len(t, c.records, 1)
	assert.Equal(t, []byte("cat"), c.records[0].Data)
}

func TestQueue_NoRetainDropsPayload(t *testing.T) {
	q, c := newQueue(4, false)
	require.NoError(t, q.Issue(1, Entry{}))
	q.Complete([]sut.QuerySampleResponse{{ID: 1, Data: []byte("x")}})
	q.Drain()
	require.Len(t, c.records, 1)
	assert.Nil(t, c.records[0].Data)
}

func TestQueue_ConcurrentCompleters(t *testing.T) {
	const total = 4096
	const workers = 8

	q, c := newQueue(total, false)
	q.Start()
	for id := uint64(1); id <= total; id++ {
		require.NoError(t, q.Issue(id, Entry{Issued: q.clock.Now()}))
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for id := uint64(w + 1); id <= total; id += workers {
				q.Complete([]sut.QuerySampleResponse{{ID: id}})
				// Every id is also completed a second time by a racing goroutine.
				q.Complete([]sut.QuerySampleResponse{{ID: id}})
			}
		}(w)
	}
	wg.Wait()
	q.Stop()

	assert.Equal(t, total, c.len())
	assert.Equal(t, uint64(0), q.Outstanding())
	assert.Equal(t, uint64(total), q.Violations().Duplicate)

	seen := make(map[uint64]bool, total)
	for _, r := range c.records {
		assert.False(t, seen[r.ID], "id %d drained twice", r.ID)
		seen[r.ID] = true
		assert.GreaterOrEqual(t, r.Completed, r.Entry.Issued)
	}
}

func TestQueue_ReusesSlotsAcrossWraps(t *testing.T) {
	q, c := newQueue(4, false)
	for id := uint64(1); id <= 100; id++ {
		require.NoError(t, q.Issue(id, Entry{Query: id}))
		q.Complete([]sut.QuerySampleResponse{{ID: id}})
		if id%3 == 0 {
			q.Drain()
		}
	}
	q.Drain()
	require.Len(t, c.records, 100)
	for i, r := range c.records {
		assert.Equal(t, uint64(i+1), r.Entry.Query)
	}
}
