// Package pty runs shells in pseudo-terminals and keeps their recent output
// so callers can read what a command printed after it was sent.
package pty

import "sync"

// RingBuffer is a thread-safe circular buffer of output lines.
//
// Besides the retained lines it counts every line ever written. That count
// is a cursor: Mark returns it, and Since(mark) returns the retained lines
// written after it.
type RingBuffer struct {
	mu    sync.RWMutex
	lines []string
	head  int   // next write position
	size  int   // retained lines, at most cap
	cap   int   // fixed at creation
	total int64 // lines written since creation
}

// NewRingBuffer creates a buffer holding capacity lines.
// If capacity is <= 0, it defaults to 5000 lines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 5000
	}
	return &RingBuffer{
		lines: make([]string, capacity),
		cap:   capacity,
	}
}

// Write appends a line, overwriting the oldest when full.
func (rb *RingBuffer) Write(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.head] = line
	rb.head = (rb.head + 1) % rb.cap
	if rb.size < rb.cap {
		rb.size++
	}
	rb.total++
}

// Lines returns a copy of the retained lines, oldest first.
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.lastLocked(rb.size)
}

// Mark returns the number of lines written so far.
func (rb *RingBuffer) Mark() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

// Since returns the lines written after mark, oldest first. Lines already
// overwritten are lost.
func (rb *RingBuffer) Since(mark int64) []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if mark < 0 {
		mark = 0
	}
	if mark >= rb.total {
		return []string{}
	}
	n := rb.total - mark
	if n > int64(rb.size) {
		n = int64(rb.size)
	}
	return rb.lastLocked(int(n))
}

// lastLocked returns the newest n retained lines in write order.
func (rb *RingBuffer) lastLocked(n int) []string {
	result := make([]string, n)
	start := (rb.head - n + rb.cap) % rb.cap
	for i := 0; i < n; i++ {
		result[i] = rb.lines[(start+i)%rb.cap]
	}
	return result
}

// Size returns the number of retained lines.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
