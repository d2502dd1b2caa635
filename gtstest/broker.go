// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package gtstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/datagrid/gts/queue"
)

// This type is an in-memory message broker for tests. Queues spring into
// existence on first use, publishes never block, and every publish is
// counted so tests can assert on hand-off traffic. Messages are delivered at
// most once; a test simulates a redelivery by publishing the same transfer
// id again.
type MemBroker struct {
	mutex  sync.Mutex
	queues map[string]chan string
	counts map[string]int
	closed bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{
		queues: make(map[string]chan string),
		counts: make(map[string]int),
	}
}

// returns the channel backing the named queue, creating it if necessary
// (call with the mutex held)
func (b *MemBroker) queue(queueName string) chan string {
	if _, found := b.queues[queueName]; !found {
		b.queues[queueName] = make(chan string, 256)
	}
	return b.queues[queueName]
}

func (b *MemBroker) Declare(queueName string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return queue.NotConnectedError{}
	}
	b.queue(queueName)
	return nil
}

func (b *MemBroker) Publish(ctx context.Context, queueName, transferId string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return queue.NotConnectedError{}
	}
	select {
	case b.queue(queueName) <- transferId:
	default:
		return fmt.Errorf("The queue %s is full.", queueName)
	}
	b.counts[queueName]++
	return nil
}

func (b *MemBroker) Consume(ctx context.Context, queueName string) (<-chan queue.Delivery, error) {
	b.mutex.Lock()
	messages := b.queue(queueName)
	closed := b.closed
	b.mutex.Unlock()
	if closed {
		return nil, queue.NotConnectedError{}
	}
	deliveries := make(chan queue.Delivery)
	go func() {
		defer close(deliveries)
		for {
			select {
			case <-ctx.Done():
				return
			case transferId := <-messages:
				select {
				case <-ctx.Done():
					return
				case deliveries <- memDelivery(transferId):
				}
			}
		}
	}()
	return deliveries, nil
}

func (b *MemBroker) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	return nil
}

// Reports how many messages have been published to the named queue over the
// broker's lifetime, delivered or not.
func (b *MemBroker) PublishCount(queueName string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.counts[queueName]
}

// a delivered message; acknowledgment is a no-op because MemBroker never
// redelivers on its own
type memDelivery string

func (d memDelivery) TransferId() string {
	return string(d)
}

func (d memDelivery) Ack() error {
	return nil
}
