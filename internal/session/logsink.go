package session

import (
	"sync"
	"time"
)

// MinLogCapacity is the smallest ring the dashboard can work with; it
// renders the last 20 lines.
const MinLogCapacity = 20

// LogSink is a fixed-capacity ring of log lines. Older lines are discarded
// once the ring is full. It is safe for concurrent use.
type LogSink struct {
	mu    sync.RWMutex
	lines []LogLine
	pos   int
	full  bool
	seq   uint64
	last  time.Time
	now   func() time.Time
}

// NewLogSink returns a sink retaining at most capacity lines. Capacities
// below MinLogCapacity are raised to it.
func NewLogSink(capacity int) *LogSink {
	if capacity < MinLogCapacity {
		capacity = MinLogCapacity
	}
	return &LogSink{
		lines: make([]LogLine, capacity),
		now:   time.Now,
	}
}

// Append stamps text and stores it. Timestamps never go backwards, even if
// the wall clock does.
func (s *LogSink) Append(text string) LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	s.seq++

	line := LogLine{Seq: s.seq, Time: ts, Text: text}
	s.lines[s.pos] = line
	s.pos = (s.pos + 1) % len(s.lines)
	if s.pos == 0 {
		s.full = true
	}
	return line
}

// Tail returns up to n of the most recent lines, oldest first. A negative n
// is treated as zero.
func (s *LogSink) Tail(n int) []LogLine {
	if n <= 0 {
		return []LogLine{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.pos
	if s.full {
		size = len(s.lines)
	}
	if n > size {
		n = size
	}

	out := make([]LogLine, n)
	start := s.pos - n
	if start < 0 {
		start += len(s.lines)
	}
	for i := 0; i < n; i++ {
		out[i] = s.lines[(start+i)%len(s.lines)]
	}
	return out
}

// Since returns the retained lines with a sequence number greater than seq,
// oldest first.
func (s *LogSink) Since(seq uint64) []LogLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq >= s.seq {
		return []LogLine{}
	}
	n := int(s.seq - seq)
	size := s.pos
	if s.full {
		size = len(s.lines)
	}
	if n > size {
		n = size
	}
	out := make([]LogLine, n)
	start := s.pos - n
	if start < 0 {
		start += len(s.lines)
	}
	for i := 0; i < n; i++ {
		out[i] = s.lines[(start+i)%len(s.lines)]
	}
	return out
}

// Len returns the number of retained lines.
func (s *LogSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.lines)
	}
	return s.pos
}

// Capacity returns the ring size.
func (s *LogSink) Capacity() int {
	return len(s.lines)
}
