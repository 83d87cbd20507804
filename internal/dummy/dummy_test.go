package dummy

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/sut"
)

type collector struct {
	mu   sync.Mutex
	resp []sut.QuerySampleResponse
}

func (c *collector) Complete(r []sut.QuerySampleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, x := range r {
		x.Data = append([]byte(nil), x.Data...)
		c.resp = append(c.resp, x)
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resp)
}

func TestSUT_CompletesEverySample(t *testing.T) {
	s := NewSUT(context.Background(), ServerConfig{Profile: Fast, Workers: 4, BatchSize: 3})
	defer s.Close()

	samples := make([]sut.QuerySample, 10)
	for i := range samples {
		samples[i] = sut.QuerySample{ID: uint64(i + 1), Index: sut.SampleIndex(i * 2)}
	}
	c := &collector{}
	s.IssueQuery(samples, c)

	require.Eventually(t, func() bool { return c.count() == 10 }, 2*time.Second, time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[uint64]bool{}
	for _, r := range c.resp {
		assert.False(t, seen[r.ID])
		seen[r.ID] = true
		assert.Equal(t, (r.ID-1)*2, binary.LittleEndian.Uint64(r.Data))
	}
}

func TestSUT_Name(t *testing.T) {
	s := NewSUT(context.Background(), ServerConfig{Profile: Spike, Workers: 2})
	defer s.Close()
	assert.Equal(t, "dummy-spike-x2", s.Name())
}

func TestSUT_CloseStopsWorkers(t *testing.T) {
	s := NewSUT(context.Background(), ServerConfig{Profile: Slow, Workers: 1})
	s.IssueQuery([]sut.QuerySample{{ID: 1}}, &collector{})
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not interrupt the worker")
	}
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("medium")
	require.NoError(t, err)
	assert.Equal(t, Medium, p)
	_, err = ParseProfile("warp")
	assert.Error(t, err)
}

func TestLibrary_LoadUnload(t *testing.T) {
	l := NewLibrary(10, 4)
	assert.Equal(t, 10, l.TotalSampleCount())
	assert.Equal(t, 4, l.PerformanceSampleCount())

	require.NoError(t, l.LoadSamplesToMemory([]sut.SampleIndex{1, 2, 3}))
	assert.Equal(t, 3, l.Loaded())
	assert.Error(t, l.LoadSamplesToMemory([]sut.SampleIndex{10}))
	require.NoError(t, l.UnloadSamplesFromMemory([]sut.SampleIndex{1, 2, 3}))
	assert.Error(t, l.UnloadSamplesFromMemory([]sut.SampleIndex{1}))
	assert.Equal(t, 0, l.Loaded())
}
