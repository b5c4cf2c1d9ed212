// Package buffer provides an in-memory ring buffer for recent PTY output.
//
// Each session keeps one so that a client reattaching after a disconnect can
// be brought up to date with the most recent terminal output. Nothing is ever
// written to disk.
package buffer

import "sync"

// RingBuffer retains up to capacity bytes of the most recently written data.
// Older data is discarded as new data arrives. Safe for concurrent use.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []byte
	capacity int
}

// NewRingBuffer creates a RingBuffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{capacity: capacity}
}

// Write appends p, evicting the oldest bytes when the buffer would exceed
// its capacity. It implements io.Writer and never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(p) >= rb.capacity {
		rb.data = append(rb.data[:0], p[len(p)-rb.capacity:]...)
		return len(p), nil
	}

	rb.data = append(rb.data, p...)
	if overflow := len(rb.data) - rb.capacity; overflow > 0 {
		rb.data = append(rb.data[:0], rb.data[overflow:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]byte, len(rb.data))
	copy(out, rb.data)
	return out
}

// Len returns the number of bytes currently buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.data)
}
