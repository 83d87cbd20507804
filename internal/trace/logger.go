// Package trace is the asynchronous event logger of the harness. Producers
// push fixed-size events into their own lock-free ring; a single background
// goroutine drains every ring and does all formatting and I/O.
package trace

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	drainBatch = 256
	idlePoll   = time.Millisecond
)

type flusher interface {
	Flush() error
}

// Producer is a handle for one logging goroutine. Log must not be called
// from more than one goroutine at a time.
type Producer struct {
	name    string
	r       *ring
	dropped atomic.Uint64
}

// Log enqueues ev without blocking. A full ring drops the event.
func (p *Producer) Log(ev Event) {
	if !p.r.push(&ev) {
		p.dropped.Add(1)
	}
}

// Note logs a free-form message.
func (p *Producer) Note(at int64, text string) {
	p.Log(Event{At: at, Kind: KindNote, Text: text})
}

func (p *Producer) Name() string { return p.name }

func (p *Producer) Dropped() uint64 { return p.dropped.Load() }

type Logger struct {
	out  zerolog.Logger
	w    io.Writer
	size int

	mu        sync.Mutex
	producers atomic.Pointer[[]*Producer]
	written   atomic.Uint64

	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New starts a logger writing JSON lines to w. size is the slot count of each
// producer ring and must be a power of two.
func New(w io.Writer, size int) *Logger {
	l := &Logger{
		out:      zerolog.New(w),
		w:        w,
		size:     size,
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	empty := []*Producer{}
	l.producers.Store(&empty)
	go l.drainLoop()
	return l
}

// NewProducer registers a new ring. Registration takes a lock; logging does not.
func (l *Logger) NewProducer(name string) *Producer {
	p := &Producer{name: name, r: newRing(l.size)}

	l.mu.Lock()
	defer l.mu.Unlock()
	old := *l.producers.Load()
	next := make([]*Producer, len(old), len(old)+1)
	copy(next, old)
	next = append(next, p)
	l.producers.Store(&next)
	return p
}

// Flush blocks until every event logged before the call has been written.
func (l *Logger) Flush() {
	ch := make(chan struct{})
	select {
	case l.flushReq <- ch:
	case <-l.done:
		return
	}
	select {
	case <-ch:
	case <-l.done:
	}
}

// Close flushes and stops the drain goroutine.
func (l *Logger) Close() error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	if f, ok := l.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Dropped is the number of events lost to full rings.
func (l *Logger) Dropped() uint64 {
	var n uint64
	for _, p := range *l.producers.Load() {
		n += p.Dropped()
	}
	return n
}

// Written is the number of events drained to the writer.
func (l *Logger) Written() uint64 {
	return l.written.Load()
}

func (l *Logger) drainLoop() {
	defer close(l.done)

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		if l.drainOnce(drainBatch) > 0 {
			select {
			case ch := <-l.flushReq:
				l.drainAll()
				close(ch)
			case <-l.stop:
				l.drainAll()
				return
			default:
			}
			continue
		}

		select {
		case ch := <-l.flushReq:
			l.drainAll()
			close(ch)
		case <-l.stop:
			l.drainAll()
			return
		case <-ticker.C:
		}
	}
}

func (l *Logger) drainAll() {
	for l.drainOnce(drainBatch) > 0 {
	}
	if f, ok := l.w.(flusher); ok {
		f.Flush()
	}
}

// drainOnce pops up to batch events from every producer, round robin.
func (l *Logger) drainOnce(batch int) int {
	var ev Event
	n := 0
	for _, p := range *l.producers.Load() {
		for i := 0; i < batch && p.r.pop(&ev); i++ {
			l.write(p.name, &ev)
			n++
		}
	}
	l.written.Add(uint64(n))
	return n
}

func (l *Logger) write(src string, ev *Event) {
	// Log() carries no level, so the global zerolog level never filters
	// the trace; the severity is recorded as a plain field instead.
	level := zerolog.InfoLevel
	switch ev.Kind {
	case KindViolation, KindError:
		level = zerolog.ErrorLevel
	case KindQueryIssued, KindSampleComplete, KindScheduleLag:
		level = zerolog.DebugLevel
	}

	e := l.out.Log().
		Str(zerolog.LevelFieldName, level.String()).
		Int64("t_ns", ev.At).
		Str("src", src).
		Str("event", ev.Kind.String())
	if ev.Query != 0 {
		e = e.Uint64("query", ev.Query)
	}
	if ev.Sample != 0 {
		e = e.Uint64("sample", ev.Sample)
	}
	if ev.Value != 0 {
		e = e.Int64("value", ev.Value)
	}
	if ev.Text != "" {
		e = e.Str("msg", ev.Text)
	}
	e.Send()
}
