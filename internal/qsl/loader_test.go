package qsl

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/sut"
)

type fakeLib struct {
	total, perf int
	loads       [][]sut.SampleIndex
	unloads     [][]sut.SampleIndex
	failLoad    bool
}

func (f *fakeLib) Name() string                { return "fake" }
func (f *fakeLib) TotalSampleCount() int       { return f.total }
func (f *fakeLib) PerformanceSampleCount() int { return f.perf }
func (f *fakeLib) LoadSamplesToMemory(idx []sut.SampleIndex) error {
	if f.failLoad {
		return errors.New("disk on fire")
	}
	f.loads = append(f.loads, idx)
	return nil
}
func (f *fakeLib) UnloadSamplesFromMemory(idx []sut.SampleIndex) error {
	f.unloads = append(f.unloads, idx)
	return nil
}

func TestLoader_PerformanceSetIsDeterministic(t *testing.T) {
	lib := &fakeLib{total: 100, perf: 10}
	a := NewLoader(lib, 0, 42, zerolog.Nop()).PerformanceSet()
	b := NewLoader(lib, 0, 42, zerolog.Nop()).PerformanceSet()
	c := NewLoader(lib, 0, 43, zerolog.Nop()).PerformanceSet()

	assert.Len(t, a, 10)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	seen := map[sut.SampleIndex]bool{}
	for i, idx := range a {
		assert.Less(t, int(idx), 100)
		assert.False(t, seen[idx])
		seen[idx] = true
		if i > 0 {
			assert.Less(t, a[i-1], idx)
		}
	}
}

func TestLoader_CountClamp(t *testing.T) {
	lib := &fakeLib{total: 5, perf: 50}
	assert.Equal(t, 5, NewLoader(lib, 0, 1, zerolog.Nop()).PerformanceCount())
	assert.Equal(t, 3, NewLoader(lib, 3, 1, zerolog.Nop()).PerformanceCount())
}

func TestLoader_AccuracyChunksCoverEverything(t *testing.T) {
	lib := &fakeLib{total: 25, perf: 10}
	chunks := NewLoader(lib, 0, 1, zerolog.Nop()).AccuracyChunks()
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 5)

	n := 0
	for _, ch := range chunks {
		for _, idx := range ch {
			assert.Equal(t, sut.SampleIndex(n), idx)
			n++
		}
	}
	assert.Equal(t, 25, n)
}

func TestLoader_LoadUnload(t *testing.T) {
	lib := &fakeLib{total: 10, perf: 4}
	l := NewLoader(lib, 0, 1, zerolog.Nop())
	set := l.PerformanceSet()

	require.NoError(t, l.Load(set))
	assert.Error(t, l.Load(set), "double load is refused")
	assert.Equal(t, set, l.Loaded())
	require.NoError(t, l.Unload())
	require.NoError(t, l.Unload())

	assert.Len(t, lib.loads, 1)
	assert.Len(t, lib.unloads, 1)
	assert.Nil(t, l.Loaded())
}

func TestLoader_LoadErrorIsWrapped(t *testing.T) {
	lib := &fakeLib{total: 10, perf: 4, failLoad: true}
	l := NewLoader(lib, 0, 1, zerolog.Nop())
	err := l.Load([]sut.SampleIndex{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Nil(t, l.Loaded())
}
