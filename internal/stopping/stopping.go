// Package stopping decides, while a phase runs, when enough evidence has
// been collected, and afterwards whether the phase is valid.
package stopping

import (
	"fmt"
	"time"

	"steadybench/internal/settings"
)

type Decision int

const (
	Continue Decision = iota
	// StopSatisfied: minimum duration and count reached and the latency
	// bound, if any, holds.
	StopSatisfied
	StopMaxDuration
	StopMaxQueries
	// StopQueueDepth: the SUT fell so far behind the Server schedule that
	// the in-flight bound was reached.
	StopQueueDepth
	// StopStalled: a closed-loop wait outlived the drain timeout.
	StopStalled
	StopCancelled
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case StopSatisfied:
		return "satisfied"
	case StopMaxDuration:
		return "max_duration"
	case StopMaxQueries:
		return "max_query_count"
	case StopQueueDepth:
		return "queue_depth"
	case StopStalled:
		return "sut_stalled"
	case StopCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Progress is what the scheduler knows before issuing the next query.
type Progress struct {
	Elapsed       time.Duration
	IssuedQueries uint64
	// Latency returns the live latency at the target percentile. It is
	// only called once the duration and count minimums are met.
	Latency func() time.Duration
}

type Controller struct {
	minDuration time.Duration
	maxDuration time.Duration
	minQueries  uint64
	maxQueries  uint64
	target      time.Duration

	recheck   time.Duration
	lastCheck time.Duration
	checked   bool
	lastOK    bool
}

// New builds the controller for the performance phase of s.
func New(s settings.TestSettings) *Controller {
	c := &Controller{
		minDuration: s.MinDuration,
		maxDuration: s.MaxDuration,
		minQueries:  s.MinQueryCount,
		maxQueries:  s.MaxQueryCount,
		target:      s.TargetLatency(),
		recheck:     10 * time.Millisecond,
	}
	if s.Scenario == settings.Offline {
		// The Offline query is sized up front; there is nothing to wait for.
		c.minDuration, c.minQueries = 0, 1
	}
	return c
}

// Unbounded returns a controller that only stops on its maxima; used by the
// accuracy phase, which issues a fixed sample list.
func Unbounded() *Controller {
	return &Controller{recheck: 10 * time.Millisecond}
}

// Decide is called before every issue step.
func (c *Controller) Decide(p Progress) Decision {
	if c.maxDuration > 0 && p.Elapsed >= c.maxDuration {
		return StopMaxDuration
	}
	if c.maxQueries > 0 && p.IssuedQueries >= c.maxQueries {
		return StopMaxQueries
	}
	if p.Elapsed < c.minDuration || p.IssuedQueries < c.minQueries {
		return Continue
	}
	if c.target <= 0 || p.Latency == nil {
		return StopSatisfied
	}

	// Reading a percentile walks the histogram, so it is rate limited.
	if !c.checked || p.Elapsed-c.lastCheck >= c.recheck {
		c.checked = true
		c.lastCheck = p.Elapsed
		c.lastOK = p.Latency() <= c.target
	}
	if c.lastOK {
		return StopSatisfied
	}
	return Continue
}

// Validate reports whether a finished phase collected enough evidence.
func (c *Controller) Validate(completedQueries uint64, duration time.Duration) (bool, []string) {
	var causes []string
	if completedQueries < c.minQueries {
		causes = append(causes, fmt.Sprintf("%d queries completed, %d required", completedQueries, c.minQueries))
	}
	if duration < c.minDuration {
		causes = append(causes, fmt.Sprintf("ran %s, %s required", duration.Round(time.Millisecond), c.minDuration))
	}
	return len(causes) == 0, causes
}
