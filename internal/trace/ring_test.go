package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushPopOrder(t *testing.T) {
	r := newRing(4)
	for i := 1; i <= 4; i++ {
		require.True(t, r.push(&Event{Query: uint64(i)}))
	}
	assert.False(t, r.push(&Event{Query: 5}), "push into a full ring must fail")

	var ev Event
	for i := 1; i <= 4; i++ {
		require.True(t, r.pop(&ev))
		assert.Equal(t, uint64(i), ev.Query)
	}
	assert.False(t, r.pop(&ev), "pop from an empty ring must fail")
}

func TestRing_WrapsAround(t *testing.T) {
	r := newRing(2)
	var ev Event
	for i := 0; i < 10; i++ {
		require.True(t, r.push(&Event{Sample: uint64(i)}))
		require.True(t, r.pop(&ev))
		assert.Equal(t, uint64(i), ev.Sample)
	}
}

func TestRing_RejectsBadSize(t *testing.T) {
	assert.Panics(t, func() { newRing(3) })
	assert.Panics(t, func() { newRing(0) })
}
