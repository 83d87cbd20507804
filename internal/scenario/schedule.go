package scenario

import (
	"math/rand"
	"time"

	"steadybench/internal/settings"
	"steadybench/internal/sut"
)

// Poisson generates open-loop arrival offsets with exponentially distributed
// gaps. The sequence depends only on the seed and the rate, never on how
// fast the SUT answers.
type Poisson struct {
	rng  *rand.Rand
	mean float64 // ns
	t    float64
}

func NewPoisson(qps float64, seed uint64) *Poisson {
	return &Poisson{
		rng:  rand.New(rand.NewSource(int64(seed))),
		mean: float64(time.Second) / qps,
	}
}

// Next returns the offset of the next arrival from the phase start.
func (p *Poisson) Next() int64 {
	p.t += p.rng.ExpFloat64() * p.mean
	return int64(p.t)
}

// Picker draws sample indices from the loaded working set.
type Picker struct {
	set  []sut.SampleIndex
	mode settings.SampleIndexMode
	rng  *rand.Rand
	perm []int
	pos  int
}

func NewPicker(set []sut.SampleIndex, mode settings.SampleIndexMode, seed uint64) *Picker {
	return &Picker{
		set:  set,
		mode: mode,
		rng:  rand.New(rand.NewSource(int64(seed))),
	}
}

func (p *Picker) Next() sut.SampleIndex {
	if len(p.set) == 0 {
		return 0
	}
	switch p.mode {
	case settings.IndexSequential:
		idx := p.set[p.pos%len(p.set)]
		p.pos++
		return idx
	case settings.IndexUnique:
		if p.pos%len(p.set) == 0 {
			p.perm = p.rng.Perm(len(p.set))
		}
		idx := p.set[p.perm[p.pos%len(p.set)]]
		p.pos++
		return idx
	default:
		return p.set[p.rng.Intn(len(p.set))]
	}
}

// Take returns n indices.
func (p *Picker) Take(n int) []sut.SampleIndex {
	out := make([]sut.SampleIndex, n)
	for i := range out {
		out[i] = p.Next()
	}
	return out
}
