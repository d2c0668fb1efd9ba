package embedding

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned when a model is requested from a closed Pool
var ErrPoolClosed = errors.New("model pool is closed")

// Pool is a simple pool of instances of the same Model so batches can be
// embedded in parallel
type Pool struct {
	// pool of models
	models chan Model
	// size of pool
	size   int
	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool of size models built by open.  The index of the
// instance is passed so callers can spread models across devices.
func NewPool(size int, open func(i int) (Model, error)) (*Pool, error) {

	if size < 1 {
		size = 1
	}

	p := &Pool{
		models: make(chan Model, size),
		size:   size,
	}

	for i := 0; i < size; i++ {
		m, err := open(i)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, err
		}

		// attach to pool
		p.Return(m)
	}

	return p, nil
}

// Get a model from the pool, blocking until one is free
func (p *Pool) Get() (Model, error) {
	m, ok := <-p.models

	if !ok {
		return nil, ErrPoolClosed
	}

	return m, nil
}

// Return a model to the pool.  Models returned after Close are closed.
func (p *Pool) Return(m Model) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = m.Close()
		return
	}

	select {
	case p.models <- m:
	default:
		// pool is full
	}
}

// Size returns the number of models in the pool
func (p *Pool) Size() int {
	return p.size
}

// Close the pool and all idle models in it
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.models)

	for next := range p.models {
		_ = next.Close()
	}
}
