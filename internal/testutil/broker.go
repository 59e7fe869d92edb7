// Package testutil provides in-memory stand-ins for external systems.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cuongbtq/transcode-pipeline/internal/queue"
)

// Event kinds recorded by Broker
const (
	EventPublish = "publish"
	EventAck     = "ack"
	EventNack    = "nack"
)

// Event is one broker interaction, in the order it happened
type Event struct {
	Kind      string
	Queue     string
	MessageID string
	Requeue   bool
}

type pending struct {
	msg   queue.Message
	count int64
}

// Broker is an in-memory queue.Broker that honours prefetch, requeue and
// dead-lettering, and records every interaction
type Broker struct {
	mu          sync.Mutex
	queues      map[string][]pending
	dead        map[string][]queue.Message
	outstanding map[string]int
	maxInFlight map[string]int
	failures    map[string][]error
	published   map[string][]queue.Message
	events      []Event
	changed     chan struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		queues:      make(map[string][]pending),
		dead:        make(map[string][]queue.Message),
		outstanding: make(map[string]int),
		maxInFlight: make(map[string]int),
		failures:    make(map[string][]error),
		published:   make(map[string][]queue.Message),
		changed:     make(chan struct{}),
	}
}

// FailPublishes makes the next n publishes to queueName return err
func (b *Broker) FailPublishes(queueName string, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.failures[queueName] = append(b.failures[queueName], err)
	}
}

// Publish appends msg to queueName unless a failure was scheduled
func (b *Broker) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if errs := b.failures[queueName]; len(errs) > 0 {
		b.failures[queueName] = errs[1:]
		return errs[0]
	}

	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	stored := queue.Message{ID: msg.ID, Body: body}
	b.queues[queueName] = append(b.queues[queueName], pending{msg: stored})
	b.published[queueName] = append(b.published[queueName], stored)
	b.events = append(b.events, Event{Kind: EventPublish, Queue: queueName, MessageID: msg.ID})
	b.broadcast()
	return nil
}

// Consume streams deliveries, keeping at most prefetch of them unsettled
func (b *Broker) Consume(ctx context.Context, queueName, _ string, prefetch int) (<-chan *queue.Delivery, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	out := make(chan *queue.Delivery)
	go func() {
		defer close(out)
		for {
			d, ok := b.next(ctx, queueName, prefetch)
			if !ok {
				return
			}
			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(true)
				return
			}
		}
	}()
	return out, nil
}

func (b *Broker) next(ctx context.Context, queueName string, prefetch int) (*queue.Delivery, bool) {
	for {
		b.mu.Lock()
		if q := b.queues[queueName]; len(q) > 0 && b.outstanding[queueName] < prefetch {
			p := q[0]
			b.queues[queueName] = q[1:]
			b.outstanding[queueName]++
			if b.outstanding[queueName] > b.maxInFlight[queueName] {
				b.maxInFlight[queueName] = b.outstanding[queueName]
			}
			b.mu.Unlock()
			return b.delivery(queueName, p), true
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (b *Broker) delivery(queueName string, p pending) *queue.Delivery {
	return queue.NewDelivery(p.msg.Body, p.msg.ID, p.count > 0, p.count,
		func() error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.outstanding[queueName]--
			b.events = append(b.events, Event{Kind: EventAck, Queue: queueName, MessageID: p.msg.ID})
			b.broadcast()
			return nil
		},
		func(requeue bool) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.outstanding[queueName]--
			b.events = append(b.events, Event{Kind: EventNack, Queue: queueName, MessageID: p.msg.ID, Requeue: requeue})
			if requeue {
				p.count++
				b.queues[queueName] = append([]pending{p}, b.queues[queueName]...)
			} else {
				b.dead[queueName] = append(b.dead[queueName], p.msg)
			}
			b.broadcast()
			return nil
		},
	)
}

// broadcast wakes every waiting consumer; callers hold b.mu
func (b *Broker) broadcast() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Published returns every message ever published to queueName
func (b *Broker) Published(queueName string) []queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queue.Message(nil), b.published[queueName]...)
}

// Pending returns the number of messages waiting in queueName
func (b *Broker) Pending(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queueName])
}

// DeadLettered returns the messages rejected without requeue
func (b *Broker) DeadLettered(queueName string) []queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queue.Message(nil), b.dead[queueName]...)
}

// Events returns the interaction log
func (b *Broker) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// MaxInFlight is the highest number of unsettled deliveries seen on queueName
func (b *Broker) MaxInFlight(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight[queueName]
}

// Idle reports whether queueName has no waiting or unsettled messages
func (b *Broker) Idle(queueName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queueName]) == 0 && b.outstanding[queueName] == 0
}

// Logger returns a logger that discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
