// Package qsl stages sample working sets through the external sample
// library. It is only used at phase boundaries.
package qsl

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"steadybench/internal/sut"
)

type Loader struct {
	lib    sut.SampleLibrary
	log    zerolog.Logger
	rng    *rand.Rand
	count  int
	loaded []sut.SampleIndex
}

// NewLoader wraps lib. override replaces the library's performance sample
// count when positive.
func NewLoader(lib sut.SampleLibrary, override int, seed uint64, log zerolog.Logger) *Loader {
	count := lib.PerformanceSampleCount()
	if override > 0 {
		count = override
	}
	if total := lib.TotalSampleCount(); count > total || count <= 0 {
		count = total
	}
	return &Loader{
		lib:   lib,
		log:   log.With().Str("qsl", lib.Name()).Logger(),
		rng:   rand.New(rand.NewSource(int64(seed))),
		count: count,
	}
}

// PerformanceCount is the size of the performance working set.
func (l *Loader) PerformanceCount() int {
	return l.count
}

// PerformanceSet draws the working set for a performance phase. The draw is
// deterministic for a given seed.
func (l *Loader) PerformanceSet() []sut.SampleIndex {
	total := l.lib.TotalSampleCount()
	perm := l.rng.Perm(total)[:l.count]
	sort.Ints(perm)
	out := make([]sut.SampleIndex, len(perm))
	for i, p := range perm {
		out[i] = sut.SampleIndex(p)
	}
	return out
}

// AccuracyChunks splits the whole library into consecutive chunks no larger
// than the performance working set.
func (l *Loader) AccuracyChunks() [][]sut.SampleIndex {
	total := l.lib.TotalSampleCount()
	var chunks [][]sut.SampleIndex
	for start := 0; start < total; start += l.count {
		end := start + l.count
		if end > total {
			end = total
		}
		chunk := make([]sut.SampleIndex, 0, end-start)
		for i := start; i < end; i++ {
			chunk = append(chunk, sut.SampleIndex(i))
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Load stages indices. Any previously loaded set must be unloaded first.
func (l *Loader) Load(indices []sut.SampleIndex) error {
	if l.loaded != nil {
		return errors.New("qsl: samples already loaded")
	}
	if err := l.lib.LoadSamplesToMemory(indices); err != nil {
		return errors.Wrapf(err, "load %d samples", len(indices))
	}
	l.loaded = indices
	l.log.Debug().Int("samples", len(indices)).Msg("samples loaded")
	return nil
}

// Unload retires the current set. It is a no-op when nothing is loaded.
func (l *Loader) Unload() error {
	if l.loaded == nil {
		return nil
	}
	indices := l.loaded
	l.loaded = nil
	if err := l.lib.UnloadSamplesFromMemory(indices); err != nil {
		return errors.Wrapf(err, "unload %d samples", len(indices))
	}
	l.log.Debug().Int("samples", len(indices)).Msg("samples unloaded")
	return nil
}

// Loaded returns the staged set.
func (l *Loader) Loaded() []sut.SampleIndex {
	return l.loaded
}
