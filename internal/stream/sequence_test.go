// ABOUTME: Tests for sequence and arrival gap statistics
// ABOUTME: Covers wraparound, loss, reordering and restarts
package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequenceStatsWraparound(t *testing.T) {
	var s SequenceStats
	for _, seq := range []uint16{65534, 65535, 0, 1} {
		assert.True(t, s.Record(seq))
	}
	assert.Equal(t, uint64(4), s.Received)
	assert.Zero(t, s.Lost)
	assert.Zero(t, s.OutOfOrder)
}

func TestSequenceStatsLossAcrossWrap(t *testing.T) {
	var s SequenceStats
	s.Record(65535)
	s.Record(2)
	assert.Equal(t, uint64(2), s.Lost)
}

func TestSequenceStatsLateAndDuplicate(t *testing.T) {
	var s SequenceStats
	s.Record(10)
	s.Record(12)
	assert.False(t, s.Record(11), "late packet")
	assert.False(t, s.Record(12), "duplicate")
	assert.Equal(t, uint64(2), s.OutOfOrder)
	assert.Zero(t, s.Lost)
}

func TestSequenceStatsRestart(t *testing.T) {
	var s SequenceStats
	s.Record(5000)
	assert.True(t, s.Record(3))
	assert.Equal(t, uint64(1), s.Restarts)
	assert.True(t, s.Record(4))
}

func TestGapStats(t *testing.T) {
	var g GapStats
	base := time.Now()
	g.Record(base)
	assert.Zero(t, g.Average())

	g.Record(base.Add(5 * time.Millisecond))
	g.Record(base.Add(20 * time.Millisecond))

	assert.Equal(t, 5*time.Millisecond, g.Min)
	assert.Equal(t, 15*time.Millisecond, g.Max)
	assert.Equal(t, 10*time.Millisecond, g.Average())
	assert.Equal(t, uint32(10000), micros(g.Average()))
}
