// Package capture holds the append-only byte buffer a recording session fills with raw PCM.
//
// The buffer has no upper bound besides available memory. Recordings are short and
// human-triggered, so this is accepted rather than capped.
package capture

import (
	"errors"
	"fmt"
	"sync"
)

// ErrGrowFailed is returned by Append when the buffer could not be enlarged.
// The incoming chunk is dropped and previously appended data is left untouched.
var ErrGrowFailed = errors.New("capture buffer growth failed")

// Allocator returns a zero-length slice with at least the requested capacity
type Allocator func(capacity int) ([]byte, error)

// Buffer accumulates audio chunks in arrival order. It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	allocate Allocator
}

// Option configures a Buffer
type Option func(*Buffer)

// WithAllocator replaces the allocator used when the buffer needs to grow
func WithAllocator(a Allocator) Option {
	return func(b *Buffer) {
		b.allocate = a
	}
}

// NewBuffer creates an empty buffer
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{allocate: makeSlice}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append copies chunk to the end of the buffer
func (b *Buffer) Append(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	needed := len(b.data) + len(chunk)
	if needed < len(b.data) {
		return fmt.Errorf("%w: size overflow", ErrGrowFailed)
	}

	if needed > cap(b.data) {
		newCap := 2 * cap(b.data)
		if newCap < needed {
			newCap = needed
		}

		grown, err := b.allocate(newCap)
		if err != nil {
			return fmt.Errorf("%w: %d bytes: %v", ErrGrowFailed, newCap, err)
		}
		if cap(grown) < needed {
			return fmt.Errorf("%w: allocator returned %d bytes, need %d", ErrGrowFailed, cap(grown), needed)
		}

		b.data = append(grown[:0], b.data...)
	}

	b.data = append(b.data, chunk...)
	return nil
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Bytes returns a copy of the buffered bytes
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// View calls fn with the buffered bytes while holding the buffer lock.
// fn must not retain the slice or call back into the buffer.
func (b *Buffer) View(fn func(data []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b.data)
}

// Release drops the buffered data
func (b *Buffer) Release() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// makeSlice is the default allocator. Oversized requests make the runtime panic
// instead of returning an error; that panic is turned into an error here.
func makeSlice(capacity int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("allocate %d bytes: %v", capacity, r)
		}
	}()
	return make([]byte, 0, capacity), nil
}
