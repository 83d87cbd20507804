package trace

import "sync/atomic"

// ring is a single-producer/single-consumer queue of events. Each slot carries
// a sequence ticket: a slot at position p is writable when seq == p and
// readable when seq == p+1. Capacity is a power of two and never changes.
type ring struct {
	_    [64]byte // consumer cursor on its own cache line
	head uint64

	_    [64]byte // producer cursor on its own cache line
	tail uint64

	_ [64]byte

	mask uint64
	step uint64
	buf  []slot
}

type slot struct {
	ev  Event
	seq uint64
}

func newRing(size int) *ring {
	if size <= 0 || size&(size-1) != 0 {
		panic("trace: ring size must be >0 and a power of two")
	}
	r := &ring{
		mask: uint64(size - 1),
		step: uint64(size),
		buf:  make([]slot, size),
	}
	for i := range r.buf {
		r.buf[i].seq = uint64(i)
	}
	return r
}

// push is called from the producer only. It reports false when full.
func (r *ring) push(ev *Event) bool {
	t := r.tail
	s := &r.buf[t&r.mask]
	if atomic.LoadUint64(&s.seq) != t {
		return false
	}
	s.ev = *ev
	atomic.StoreUint64(&s.seq, t+1)
	r.tail = t + 1
	return true
}

// pop is called from the consumer only. It reports false when empty.
func (r *ring) pop(out *Event) bool {
	h := r.head
	s := &r.buf[h&r.mask]
	if atomic.LoadUint64(&s.seq) != h+1 {
		return false
	}
	*out = s.ev
	s.ev = Event{}
	atomic.StoreUint64(&s.seq, h+r.step)
	r.head = h + 1
	return true
}
