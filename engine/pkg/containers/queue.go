// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package containers

import (
	"sync"

	"github.com/edwingeng/deque"
)

// Queue is an unbounded FIFO queue safe for concurrent use. C receives a
// signal whenever the queue turns non-empty, so a consumer can block on it
// and then drain the queue with Pop.
//
//nolint:structcheck
type Queue[T any] struct {
	// C is signaled after a Push. It is never closed.
	C chan struct{}

	// mu protects deque, because it is not thread-safe.
	mu    sync.RWMutex
	deque deque.Deque
}

// NewQueue creates a new Queue instance.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		C:     make(chan struct{}, 1),
		deque: deque.NewDeque(),
	}
}

// Push appends elems to the tail of the queue.
func (q *Queue[T]) Push(elems ...T) {
	if len(elems) == 0 {
		return
	}

	q.mu.Lock()
	for _, elem := range elems {
		q.deque.PushBack(elem)
	}
	q.mu.Unlock()

	select {
	case q.C <- struct{}{}:
	default:
	}
}

// Pop removes the head of the queue.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deque.Empty() {
		var noVal T
		return noVal, false
	}

	return q.deque.PopFront().(T), true
}

// Peek returns the head of the queue without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.deque.Empty() {
		var noVal T
		return noVal, false
	}

	return q.deque.Front().(T), true
}

// Size returns the number of queued elements.
func (q *Queue[T]) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.deque.Len()
}
