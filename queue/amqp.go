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

package queue

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// This type implements Broker on a RabbitMQ connection. The connection is
// shared; AMQP channels are obtained per publish and per consumer.
type AmqpBroker struct {
	url  string
	conn *amqp.Connection
}

// Connects to the RabbitMQ broker at the given AMQP URL.
func Connect(brokerUrl string) (*AmqpBroker, error) {
	conn, err := amqp.Dial(brokerUrl)
	if err != nil {
		return nil, fmt.Errorf("Couldn't connect to broker: %s", err.Error())
	}
	return &AmqpBroker{url: brokerUrl, conn: conn}, nil
}

// Declares a durable, non-exclusive queue with the given name.
func (b *AmqpBroker) Declare(queueName string) error {
	if b.conn == nil {
		return NotConnectedError{}
	}
	channel, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil)
	return err
}

// Publishes a transfer id to the named queue with persistent delivery.
func (b *AmqpBroker) Publish(ctx context.Context, queueName, transferId string) error {
	if b.conn == nil {
		return NotConnectedError{}
	}
	channel, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	return channel.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "text/plain",
			Body:         []byte(transferId),
		})
}

// Begins consuming the named queue on a dedicated channel with a prefetch of
// one and manual acknowledgement.
func (b *AmqpBroker) Consume(ctx context.Context, queueName string) (<-chan Delivery, error) {
	if b.conn == nil {
		return nil, NotConnectedError{}
	}
	channel, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err = channel.Qos(1, 0, false); err != nil {
		channel.Close()
		return nil, err
	}
	messages, err := channel.Consume(
		queueName,
		"",    // consumer tag assigned by the broker
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil)
	if err != nil {
		channel.Close()
		return nil, err
	}

	deliveries := make(chan Delivery)
	go func() {
		defer close(deliveries)
		defer channel.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					slog.Info(fmt.Sprintf("Consumer for queue %s closed", queueName))
					return
				}
				select {
				case deliveries <- amqpDelivery{message: message}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return deliveries, nil
}

// Closes the broker connection, ending all consumers.
func (b *AmqpBroker) Close() error {
	if b.conn == nil {
		return NotConnectedError{}
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// a Delivery wrapping an AMQP message
type amqpDelivery struct {
	message amqp.Delivery
}

func (d amqpDelivery) TransferId() string {
	return string(d.message.Body)
}

func (d amqpDelivery) Ack() error {
	return d.message.Ack(false)
}
