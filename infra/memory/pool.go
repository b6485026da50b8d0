// Package memory provides the typed object pool the books draw resident
// order records from, so steady-state matching allocates nothing.
package memory

import "sync"

type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	var zero T
	*v = zero
	p.p.Put(v)
}
