package state

import "sync/atomic"

type versioned[T any] struct {
	value   T
	version uint64
}

// Cell holds a value with exactly one writer and any number of readers. Readers observe
// either the previous or the next value, never a partial update. Stored values must not
// be mutated afterwards.
type Cell[T any] struct {
	p atomic.Pointer[versioned[T]]
}

// Load returns the current value and its version. A cell that was never written has version 0.
func (c *Cell[T]) Load() (T, uint64) {
	v := c.p.Load()
	if v == nil {
		var zero T
		return zero, 0
	}
	return v.value, v.version
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	value, _ := c.Load()
	return value
}

// Store replaces the value and returns the new version. Only the owning writer may call it.
func (c *Cell[T]) Store(value T) uint64 {
	_, version := c.Load()
	next := &versioned[T]{value: value, version: version + 1}
	c.p.Store(next)
	return next.version
}

// Update stores fn applied to the current value. fn receives a value that readers may still
// hold, so it must copy reference fields before changing them.
func (c *Cell[T]) Update(fn func(T) T) uint64 {
	return c.Store(fn(c.Get()))
}
