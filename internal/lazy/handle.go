// Package lazy holds external clients that are constructed at most once.
package lazy

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUninitialized is returned by Get before a successful Init.
var ErrUninitialized = errors.New("client not initialized")

// Handle owns at most one instance of T. The zero value is not usable; call
// NewHandle.
type Handle[T any] struct {
	name  string
	mu    sync.Mutex
	value T
	ready bool
}

func NewHandle[T any](name string) *Handle[T] {
	return &Handle[T]{name: name}
}

// Init constructs the instance with fn unless one already exists, in which
// case fn is not called and the existing instance is returned. An error from
// fn leaves the handle empty so a later Init may try again.
func (h *Handle[T]) Init(fn func() (T, error)) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ready {
		return h.value, nil
	}

	v, err := fn()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("init %s: %w", h.name, err)
	}
	h.value = v
	h.ready = true
	return v, nil
}

// Get returns the instance or an error wrapping ErrUninitialized.
func (h *Handle[T]) Get() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.ready {
		var zero T
		return zero, fmt.Errorf("%s: %w", h.name, ErrUninitialized)
	}
	return h.value, nil
}

// MustGet is Get for callers that checked Ready at startup.
func (h *Handle[T]) MustGet() T {
	v, err := h.Get()
	if err != nil {
		panic(err)
	}
	return v
}

func (h *Handle[T]) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *Handle[T]) Name() string { return h.name }
