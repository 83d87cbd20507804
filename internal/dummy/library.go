package dummy

import (
	"fmt"
	"sync"

	"steadybench/internal/sut"
)

// Library is a sample library whose samples cost nothing to stage. It
// tracks what is loaded so misuse shows up as an error.
type Library struct {
	name        string
	total       int
	performance int

	mu     sync.Mutex
	loaded map[sut.SampleIndex]struct{}
}

func NewLibrary(total, performance int) *Library {
	return &Library{
		name:        fmt.Sprintf("dummy-qsl-%d", total),
		total:       total,
		performance: performance,
		loaded:      make(map[sut.SampleIndex]struct{}),
	}
}

func (l *Library) Name() string                { return l.name }
func (l *Library) TotalSampleCount() int       { return l.total }
func (l *Library) PerformanceSampleCount() int { return l.performance }

func (l *Library) LoadSamplesToMemory(indices []sut.SampleIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, i := range indices {
		if int(i) >= l.total {
			return fmt.Errorf("sample %d out of range [0, %d)", i, l.total)
		}
		l.loaded[i] = struct{}{}
	}
	return nil
}

func (l *Library) UnloadSamplesFromMemory(indices []sut.SampleIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, i := range indices {
		if _, ok := l.loaded[i]; !ok {
			return fmt.Errorf("sample %d is not loaded", i)
		}
		delete(l.loaded, i)
	}
	return nil
}

// Loaded is the number of staged samples.
func (l *Library) Loaded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loaded)
}
