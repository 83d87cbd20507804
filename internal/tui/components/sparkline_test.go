package components

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparkline_ScrollsAndScales(t *testing.T) {
	s := NewSparkline(4, "qps", "", lipgloss.NewStyle())
	for _, v := range []float64{100, 1, 2, 4, 8} {
		s.Add(v)
	}
	assert.Equal(t, []float64{1, 2, 4, 8}, s.Data)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, 8.0, s.Last())
	assert.Equal(t, "▁▂▄█", s.Graph())
}

func TestSparkline_Pads(t *testing.T) {
	s := NewSparkline(3, "p99", "ms", lipgloss.NewStyle())
	s.Add(0)
	assert.Equal(t, "   ", s.Graph())
	assert.Contains(t, s.View(), "p99  0.0ms")
}
