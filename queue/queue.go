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

// This package provides the durable queues that chain the pipeline stages
// together. Messages carry only a transfer id; everything else lives in the
// transfers table. Queues are durable and non-exclusive, publishes are
// persistent, and consumers run with a prefetch of one and acknowledge
// messages manually, so a consumer crash simply redelivers.
package queue

import (
	"context"
)

// A single message taken off a queue. The message is redelivered unless and
// until it is acknowledged.
type Delivery interface {
	// the transfer id the message refers to
	TransferId() string
	// acknowledges the message, removing it from the queue
	Ack() error
}

// A Broker hands transfer ids between pipeline stages.
type Broker interface {
	// declares a durable queue with the given name, creating it if necessary
	Declare(queueName string) error
	// publishes a transfer id to the named queue with persistent delivery
	Publish(ctx context.Context, queueName, transferId string) error
	// begins consuming the named queue with a prefetch of one; the returned
	// channel closes when the context is canceled or the broker goes away
	Consume(ctx context.Context, queueName string) (<-chan Delivery, error)
	// closes the broker connection
	Close() error
}
