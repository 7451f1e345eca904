// Package pool reuses short-lived objects on hot encode paths. The NDJSON
// writer keeps one line buffer per writer from here.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Stats counts pool traffic
type Stats struct {
	// Allocated objects were built by the pool's constructor
	Allocated int64
	// Outstanding objects were taken and not yet returned or dropped
	Outstanding int64
	Gets        int64
	// Dropped objects were returned but refused by the keep check
	Dropped int64
}

// Pool is a typed sync.Pool
type Pool[T any] struct {
	p     sync.Pool
	reset func(T)
	keep  func(T) bool

	allocated, outstanding, gets, dropped atomic.Int64
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithReset clears objects on their way back into the pool
func WithReset[T any](reset func(T)) Option[T] {
	return func(p *Pool[T]) { p.reset = reset }
}

// WithKeep drops returned objects keep rejects, e.g. oversized buffers
func WithKeep[T any](keep func(T) bool) Option[T] {
	return func(p *Pool[T]) { p.keep = keep }
}

// New returns a pool building objects with newFn
func New[T any](newFn func() T, opts ...Option[T]) *Pool[T] {
	p := &Pool[T]{}
	for _, opt := range opts {
		opt(p)
	}
	p.p.New = func() any {
		p.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	p.outstanding.Add(1)
	return p.p.Get().(T)
}

// Put gives obj back
func (p *Pool[T]) Put(obj T) {
	p.outstanding.Add(-1)
	if p.keep != nil && !p.keep(obj) {
		p.dropped.Add(1)
		return
	}
	if p.reset != nil {
		p.reset(obj)
	}
	p.p.Put(obj)
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Allocated:   p.allocated.Load(),
		Outstanding: p.outstanding.Load(),
		Gets:        p.gets.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// buffers above this capacity are not kept, one huge record must not pin
// memory for the rest of the run
const maxBufferCap = 4 << 20

var buffers = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 4096)) },
	WithReset(func(b *bytes.Buffer) { b.Reset() }),
	WithKeep(func(b *bytes.Buffer) bool { return b.Cap() <= maxBufferCap }),
)

// GetBuffer returns an empty buffer
func GetBuffer() *bytes.Buffer {
	return buffers.Get()
}

// PutBuffer returns b; nil is ignored
func PutBuffer(b *bytes.Buffer) {
	if b != nil {
		buffers.Put(b)
	}
}

// BufferStats reports the shared buffer pool
func BufferStats() Stats {
	return buffers.Stats()
}
