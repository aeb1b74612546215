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

package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/buildflow/engine/pkg/containers"
	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/atomic"
)

const defaultReceiverBufferSize = 16

type receiverID = int64

// Filter decides whether a receiver is interested in an event.
type Filter[T any] func(event T) bool

// Notifier is the sending endpoint of an event notification mechanism.
// It broadcasts a stream of events to a number of receivers, each of
// which may subscribe to a subset of the stream with a Filter.
//
// Notify never blocks the caller. Events are queued without bound and
// delivered by a background goroutine in the order they were notified.
type Notifier[T any] struct {
	receivers sync.Map // receiverID -> *Receiver[T]
	nextID    atomic.Int64

	queue *containers.Queue[T]

	closed        atomic.Bool
	closeCh       chan struct{}
	synchronizeCh chan struct{}

	delivered atomic.Int64

	wg sync.WaitGroup
}

// Receiver is the receiving endpoint of a Notifier.
type Receiver[T any] struct {
	// C is a channel to read the events from.
	C chan T

	id     receiverID
	filter Filter[T]

	closeOnce sync.Once
	// closed MUST be closed before closing `C`.
	closed chan struct{}

	notifier *Notifier[T]
}

// Close closes the receiver. It is safe to call Close more than once.
func (r *Receiver[T]) Close() {
	r.closeOnce.Do(
		func() {
			close(r.closed)
			// After the synchronization barrier run() has finished its
			// current iteration and observes `closed`, so nobody writes
			// to C anymore.
			<-r.notifier.synchronizeCh
			close(r.C)
			r.notifier.receivers.Delete(r.id)
		})
}

// NewNotifier creates a new Notifier and starts its delivery goroutine.
func NewNotifier[T any]() *Notifier[T] {
	ret := &Notifier[T]{
		queue:         containers.NewQueue[T](),
		closeCh:       make(chan struct{}),
		synchronizeCh: make(chan struct{}),
	}

	ret.wg.Add(1)
	go func() {
		defer ret.wg.Done()
		ret.run()
	}()
	return ret
}

// NewReceiver creates a new Receiver associated with the Notifier.
// A nil filter receives every event.
func (n *Notifier[T]) NewReceiver(filter Filter[T]) *Receiver[T] {
	receiver := &Receiver[T]{
		id:       n.nextID.Add(1),
		C:        make(chan T, defaultReceiverBufferSize),
		filter:   filter,
		closed:   make(chan struct{}),
		notifier: n,
	}

	n.receivers.Store(receiver.id, receiver)
	return receiver
}

// Notify queues events for delivery.
func (n *Notifier[T]) Notify(events ...T) {
	if n.closed.Load() {
		return
	}
	n.queue.Push(events...)
}

// Delivered returns how many events have been dispatched to receivers.
func (n *Notifier[T]) Delivered() int64 {
	return n.delivered.Load()
}

// Close stops delivery and closes all receivers.
func (n *Notifier[T]) Close() {
	if n.closed.Swap(true) {
		return
	}

	close(n.closeCh)
	n.wg.Wait()

	n.receivers.Range(func(_, value any) bool {
		receiver := value.(*Receiver[T])
		receiver.Close()
		return true
	})
}

// Flush waits until all queued events have been dispatched.
// Flush requires a quiescent period: callers should not notify
// more events until it returns.
func (n *Notifier[T]) Flush(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-n.closeCh:
			return nil
		case <-n.synchronizeCh:
		}

		if n.queue.Size() == 0 {
			return nil
		}
	}
}

func (n *Notifier[T]) run() {
	// a lost signal is recovered by the ticker
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	defer close(n.synchronizeCh)

	for {
		select {
		case <-n.closeCh:
			return
		case n.synchronizeCh <- struct{}{}:
			// synchronization barrier only
		case <-ticker.C:
			if !n.drain() {
				return
			}
		case <-n.queue.C:
			if !n.drain() {
				return
			}
		}
	}
}

// drain delivers every queued event. It returns false if the notifier
// was closed meanwhile.
func (n *Notifier[T]) drain() bool {
	for {
		event, ok := n.queue.Pop()
		if !ok {
			return true
		}

		// A congested receiver blocks the others. Receivers are expected
		// to consume promptly or close themselves.
		n.receivers.Range(func(_, value any) bool {
			receiver := value.(*Receiver[T])
			if receiver.filter != nil && !receiver.filter(event) {
				return true
			}

			select {
			case <-n.closeCh:
				return false
			case <-receiver.closed:
			case receiver.C <- event:
			}
			return true
		})
		n.delivered.Inc()

		select {
		case <-n.closeCh:
			return false
		default:
		}
	}
}
