package runner

import (
	"fmt"

	"steadybench/internal/settings"
)

// Phase is a state of the test state machine:
// Idle -> LoadSamples -> Performance -> [Accuracy] -> [PeakSearch] -> Finalize -> Idle.
type Phase int32

const (
	Idle Phase = iota
	LoadSamples
	Performance
	Accuracy
	PeakSearch
	Finalize
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case LoadSamples:
		return "load_samples"
	case Performance:
		return "performance"
	case Accuracy:
		return "accuracy"
	case PeakSearch:
		return "peak_search"
	case Finalize:
		return "finalize"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// phasesFor maps a mode onto the measuring phases it runs. Peak search
// iterations after the first are scheduled by the runner itself.
func phasesFor(mode settings.Mode) []Phase {
	switch mode {
	case settings.AccuracyOnly:
		return []Phase{Accuracy}
	case settings.Submission:
		return []Phase{Accuracy, Performance}
	case settings.FindPeakPerformance:
		return []Phase{PeakSearch}
	default:
		return []Phase{Performance}
	}
}
