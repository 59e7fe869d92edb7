// Package queue defines the durable job queue boundary used by the
// admission service and both workers.
package queue

import (
	"context"
	"errors"
)

// ErrAlreadySettled is returned when a delivery is acked or nacked twice
var ErrAlreadySettled = errors.New("delivery already settled")

// Message is a unit of work to enqueue
type Message struct {
	ID   string
	Body []byte
}

// Publisher enqueues durable messages. Publish returns only after the
// broker has accepted responsibility for the message.
type Publisher interface {
	Publish(ctx context.Context, queueName string, msg Message) error
}

// Consumer streams deliveries from a queue. At most prefetch deliveries are
// outstanding (neither acked nor nacked) at any time. The returned channel
// is closed once ctx is canceled or the subscription ends.
type Consumer interface {
	Consume(ctx context.Context, queueName, consumerTag string, prefetch int) (<-chan *Delivery, error)
}

// Broker is both ends of the queue
type Broker interface {
	Publisher
	Consumer
}

// Delivery is a received message that must be settled exactly once
type Delivery struct {
	Body          []byte
	MessageID     string
	Redelivered   bool
	DeliveryCount int64

	ack     func() error
	nack    func(requeue bool) error
	settled bool
}

// NewDelivery wraps a broker message with its settlement callbacks
func NewDelivery(body []byte, messageID string, redelivered bool, deliveryCount int64, ack func() error, nack func(requeue bool) error) *Delivery {
	return &Delivery{
		Body:          body,
		MessageID:     messageID,
		Redelivered:   redelivered,
		DeliveryCount: deliveryCount,
		ack:           ack,
		nack:          nack,
	}
}

// Ack removes the message from the queue
func (d *Delivery) Ack() error {
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return d.ack()
}

// Nack returns the message to the queue when requeue is set, otherwise
// routes it to the queue's dead-letter holding area
func (d *Delivery) Nack(requeue bool) error {
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return d.nack(requeue)
}
