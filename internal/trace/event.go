package trace

// Kind tags a trace event.
type Kind uint8

const (
	KindNote Kind = iota
	KindPhaseStart
	KindPhaseEnd
	KindQueryIssued
	KindSampleComplete
	KindScheduleLag
	KindStop
	KindViolation
	KindError
)

var kindNames = [...]string{
	KindNote:           "note",
	KindPhaseStart:     "phase_start",
	KindPhaseEnd:       "phase_end",
	KindQueryIssued:    "query_issued",
	KindSampleComplete: "sample_complete",
	KindScheduleLag:    "schedule_lag",
	KindStop:           "stop",
	KindViolation:      "violation",
	KindError:          "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is one fixed-size trace record. At is a run-relative nanosecond
// timestamp taken by the producer, so the drain order does not matter for
// reconstruction.
type Event struct {
	At     int64
	Kind   Kind
	Query  uint64
	Sample uint64
	Value  int64
	Text   string
}
