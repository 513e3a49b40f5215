// ABOUTME: Inbound sequence number and arrival gap statistics
// ABOUTME: Counts received, lost and out-of-order packets across uint16 wraparound
package stream

import (
	"math"
	"time"
)

// maxReorder is how far back a sequence number may fall before it is
// treated as a sender restart rather than a late packet
const maxReorder = 100

// SequenceStats tracks packet loss from 16-bit sequence numbers
type SequenceStats struct {
	started    bool
	expected   uint16
	Received   uint64
	Lost       uint64
	OutOfOrder uint64
	Restarts   uint64
}

// Record registers an arriving sequence number and reports whether its
// audio should be written (false for late or duplicate packets)
func (s *SequenceStats) Record(seq uint16) bool {
	s.Received++

	if !s.started {
		s.started = true
		s.expected = seq + 1
		return true
	}

	diff := int16(seq - s.expected)
	switch {
	case diff == 0:
		s.expected = seq + 1
		return true
	case diff > 0:
		s.Lost += uint64(diff)
		s.expected = seq + 1
		return true
	case diff > -maxReorder:
		s.OutOfOrder++
		if s.Lost > 0 {
			s.Lost--
		}
		return false
	default:
		s.Restarts++
		s.expected = seq + 1
		return true
	}
}

// GapStats tracks the time between consecutive packet arrivals
type GapStats struct {
	last  time.Time
	Min   time.Duration
	Max   time.Duration
	total time.Duration
	count int64
}

// Record registers an arrival time
func (g *GapStats) Record(now time.Time) {
	if !g.last.IsZero() {
		gap := now.Sub(g.last)
		if gap < 0 {
			gap = 0
		}
		if g.count == 0 || gap < g.Min {
			g.Min = gap
		}
		if gap > g.Max {
			g.Max = gap
		}
		g.total += gap
		g.count++
	}
	g.last = now
}

// Average returns the mean gap, or zero before two arrivals
func (g *GapStats) Average() time.Duration {
	if g.count == 0 {
		return 0
	}
	return g.total / time.Duration(g.count)
}

func micros(d time.Duration) uint32 {
	us := d.Microseconds()
	if us > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(us)
}
