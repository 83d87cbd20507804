package stopping

// PeakSearch finds the highest passing Server rate: it doubles the rate
// while phases pass, then bisects between the last pass and the first fail.
type PeakSearch struct {
	tolerance float64
	maxIter   int

	next float64
	lo   float64 // highest passing rate, 0 if none yet
	hi   float64 // lowest failing rate, 0 if none yet
	iter int
	done bool
}

func NewPeakSearch(start, tolerance float64, maxIterations int) *PeakSearch {
	return &PeakSearch{tolerance: tolerance, maxIter: maxIterations, next: start}
}

// Next returns the rate to try, or false when the search is over.
func (p *PeakSearch) Next() (float64, bool) {
	if p.done || p.iter >= p.maxIter || p.next <= 0 {
		return 0, false
	}
	return p.next, true
}

// Report records the verdict for qps and picks the next rate.
func (p *PeakSearch) Report(qps float64, pass bool) {
	p.iter++
	if pass {
		if qps > p.lo {
			p.lo = qps
		}
	} else if p.hi == 0 || qps < p.hi {
		p.hi = qps
	}

	switch {
	case p.hi == 0:
		p.next = p.lo * 2
	case p.lo == 0:
		p.next = p.hi / 2
	default:
		if (p.hi-p.lo)/p.lo <= p.tolerance {
			p.done = true
			return
		}
		p.next = (p.lo + p.hi) / 2
	}
}

// Best is the highest passing rate seen, 0 if none passed.
func (p *PeakSearch) Best() float64 {
	return p.lo
}

// Converged reports whether the search narrowed to the tolerance rather
// than running out of iterations.
func (p *PeakSearch) Converged() bool {
	return p.done
}

func (p *PeakSearch) Iterations() int {
	return p.iter
}
