// Package dummy provides an in-process system under test and sample library
// for demos and tests. Service times follow one of a few fixed profiles.
package dummy

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"steadybench/internal/sut"
)

type Profile string

const (
	// Fast: 1-5ms
	Fast Profile = "fast"
	// Medium: 10-30ms
	Medium Profile = "medium"
	// Slow: 100-200ms, good for testing queue depth and drain timeouts
	Slow Profile = "slow"
	// Spike: usually 2ms, 5% of samples take 200ms. P99 will be terrible, P50 will be fine.
	Spike Profile = "spike"
)

var Profiles = []Profile{Fast, Medium, Slow, Spike}

func ParseProfile(s string) (Profile, error) {
	for _, p := range Profiles {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown profile %q", s)
}

type ServerConfig struct {
	Profile Profile
	// Workers is the number of samples served concurrently.
	Workers int
	// BatchSize caps the samples a worker takes from one query at a time.
	BatchSize int
	Seed      int64
}

type work struct {
	samples []sut.QuerySample
	done    sut.Completer
}

// SUT serves queries on a fixed worker pool.
type SUT struct {
	cfg    ServerConfig
	queue  chan work
	g      *errgroup.Group
	cancel context.CancelFunc
}

func NewSUT(ctx context.Context, cfg ServerConfig) *SUT {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Profile == "" {
		cfg.Profile = Fast
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	s := &SUT{
		cfg:    cfg,
		queue:  make(chan work, cfg.Workers*1024),
		g:      g,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
		g.Go(func() error {
			return s.serve(ctx, rng)
		})
	}
	return s
}

func (s *SUT) Name() string {
	return fmt.Sprintf("dummy-%s-x%d", s.cfg.Profile, s.cfg.Workers)
}

// IssueQuery splits the query into batches and queues them. It only blocks
// when the SUT is already far behind.
func (s *SUT) IssueQuery(samples []sut.QuerySample, done sut.Completer) {
	for start := 0; start < len(samples); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(samples) {
			end = len(samples)
		}
		s.queue <- work{samples: samples[start:end], done: done}
	}
}

func (s *SUT) FlushQueries() {}

// Close stops the workers. Queued work is dropped.
func (s *SUT) Close() error {
	s.cancel()
	return s.g.Wait()
}

func (s *SUT) serve(ctx context.Context, rng *rand.Rand) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w := <-s.queue:
			if err := sleep(ctx, s.serviceTime(rng)); err != nil {
				return nil
			}
			resp := make([]sut.QuerySampleResponse, len(w.samples))
			for i, q := range w.samples {
				data := make([]byte, 8)
				binary.LittleEndian.PutUint64(data, uint64(q.Index))
				resp[i] = sut.QuerySampleResponse{ID: q.ID, Data: data}
			}
			w.done.Complete(resp)
		}
	}
}

func (s *SUT) serviceTime(rng *rand.Rand) time.Duration {
	switch s.cfg.Profile {
	case Medium:
		return time.Duration(rng.Intn(20)+10) * time.Millisecond
	case Slow:
		return time.Duration(rng.Intn(100)+100) * time.Millisecond
	case Spike:
		if rng.Float32() < 0.05 { // 5% chance of spike
			return 200 * time.Millisecond
		}
		return 2 * time.Millisecond
	default:
		return time.Duration(rng.Intn(4000)+1000) * time.Microsecond
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
