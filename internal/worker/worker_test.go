package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/cuongbtq/transcode-pipeline/internal/testutil"
	"github.com/cuongbtq/transcode-pipeline/internal/worker/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "jobs"

type recordingJournal struct {
	mu      sync.Mutex
	letters []*storage.DeadLetter
}

func (r *recordingJournal) Record(_ context.Context, dl *storage.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	return nil
}

func (r *recordingJournal) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.letters)
}

type runningWorker struct {
	worker *Worker
	cancel context.CancelFunc
	errCh  chan error
}

func startWorker(t *testing.T, cfg *Config) *runningWorker {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutil.Logger()
	}
	cfg.QueueName = testQueue

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(cfg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(ctx)
	}()

	rw := &runningWorker{worker: w, cancel: cancel, errCh: errCh}
	t.Cleanup(func() {
		rw.shutdown(t)
	})
	return rw
}

func (rw *runningWorker) shutdown(t *testing.T) {
	t.Helper()
	rw.cancel()
	select {
	case err := <-rw.errCh:
		assert.NoError(t, err)
		rw.errCh <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	rw.worker.Stop()
}

func publish(t *testing.T, b *testutil.Broker, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, b.Publish(context.Background(), testQueue, queue.Message{ID: id, Body: []byte(id)}))
	}
}

func eventKinds(events []testutil.Event, queueName string) []string {
	var kinds []string
	for _, e := range events {
		if e.Queue == queueName {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func TestWorker_AcksSuccessfulDeliveries(t *testing.T) {
	broker := testutil.NewBroker()
	publish(t, broker, "m1", "m2")

	var handled atomic.Int32
	startWorker(t, &Config{
		Consumer: broker,
		Handler: HandlerFunc(func(context.Context, *queue.Delivery) error {
			handled.Add(1)
			return nil
		}),
	})

	assert.Eventually(t, func() bool { return broker.Idle(testQueue) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, []string{"publish", "publish", "ack", "ack"}, eventKinds(broker.Events(), testQueue))
}

func TestWorker_PermanentFailureIsDeadLettered(t *testing.T) {
	broker := testutil.NewBroker()
	journal := &recordingJournal{}
	publish(t, broker, "poison", "good")

	startWorker(t, &Config{
		Consumer:    broker,
		DeadLetters: journal,
		Handler: HandlerFunc(func(_ context.Context, d *queue.Delivery) error {
			if d.MessageID == "poison" {
				return domain.Permanent(domain.ErrMalformedJob)
			}
			return nil
		}),
	})

	assert.Eventually(t, func() bool { return broker.Idle(testQueue) }, time.Second, 5*time.Millisecond)

	dead := broker.DeadLettered(testQueue)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", dead[0].ID)

	require.Equal(t, 1, journal.Len())
	assert.Equal(t, testQueue, journal.letters[0].Queue)
	assert.Equal(t, []byte("poison"), journal.letters[0].Payload)
	assert.Contains(t, journal.letters[0].Reason, domain.ErrMalformedJob.Error())
}

func TestWorker_TransientFailureIsRequeued(t *testing.T) {
	tests := []struct {
		name string
		fail func() error
	}{
		{name: "classified transient", fail: func() error { return domain.Transient(errors.New("store down")) }},
		{name: "unclassified error", fail: func() error { return errors.New("boom") }},
		{name: "panic", fail: func() error { panic("nil map") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := testutil.NewBroker()
			publish(t, broker, "m1")

			var attempts atomic.Int32
			startWorker(t, &Config{
				Consumer: broker,
				Handler: HandlerFunc(func(context.Context, *queue.Delivery) error {
					if attempts.Add(1) == 1 {
						return tt.fail()
					}
					return nil
				}),
			})

			assert.Eventually(t, func() bool { return broker.Idle(testQueue) }, time.Second, 5*time.Millisecond)
			assert.Equal(t, int32(2), attempts.Load())
			assert.Empty(t, broker.DeadLettered(testQueue))

			events := broker.Events()
			require.Len(t, events, 3)
			assert.Equal(t, testutil.EventNack, events[1].Kind)
			assert.True(t, events[1].Requeue)
			assert.Equal(t, testutil.EventAck, events[2].Kind)
		})
	}
}

func TestWorker_ProcessesConcurrently(t *testing.T) {
	broker := testutil.NewBroker()
	publish(t, broker, "a", "b", "c")

	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	startWorker(t, &Config{
		Consumer:    broker,
		Concurrency: 3,
		Handler: HandlerFunc(func(context.Context, *queue.Delivery) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return nil
		}),
	})

	assert.Eventually(t, func() bool { return peak.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	assert.Eventually(t, func() bool { return broker.Idle(testQueue) }, time.Second, 5*time.Millisecond)
}

func TestWorker_SingleInFlightWithPrefetchOne(t *testing.T) {
	broker := testutil.NewBroker()
	publish(t, broker, "a", "b", "c")

	startWorker(t, &Config{
		Consumer:      broker,
		Concurrency:   1,
		PrefetchCount: 1,
		Handler: HandlerFunc(func(context.Context, *queue.Delivery) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		}),
	})

	assert.Eventually(t, func() bool { return broker.Idle(testQueue) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, broker.MaxInFlight(testQueue))
}

func TestWorker_ShutdownFinishesInFlightDelivery(t *testing.T) {
	broker := testutil.NewBroker()
	publish(t, broker, "m1")

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr atomic.Value

	rw := startWorker(t, &Config{
		Consumer: broker,
		Handler: HandlerFunc(func(ctx context.Context, _ *queue.Delivery) error {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				handlerCtxErr.Store(err)
			}
			return nil
		}),
	})

	<-started
	rw.cancel()
	close(release)
	rw.worker.Stop()

	assert.Nil(t, handlerCtxErr.Load())
	assert.Equal(t, []string{"publish", "ack"}, eventKinds(broker.Events(), testQueue))
}

func TestWorker_AbortRequeuesInFlightDelivery(t *testing.T) {
	tests := []struct {
		name     string
		onCancel func(err error) error
	}{
		{name: "context error", onCancel: func(err error) error { return err }},
		{name: "permanent error", onCancel: func(err error) error {
			return domain.Permanent(fmt.Errorf("ffmpeg killed: %w", err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := testutil.NewBroker()
			publish(t, broker, "m1")
			journal := &recordingJournal{}

			started := make(chan struct{})
			var once sync.Once
			rw := startWorker(t, &Config{
				Consumer:    broker,
				DeadLetters: journal,
				Handler: HandlerFunc(func(ctx context.Context, _ *queue.Delivery) error {
					once.Do(func() { close(started) })
					<-ctx.Done()
					return tt.onCancel(ctx.Err())
				}),
			})

			<-started
			rw.cancel()
			require.NoError(t, <-rw.errCh)
			rw.errCh <- nil

			rw.worker.Abort()
			rw.worker.Stop()

			events := broker.Events()
			require.Len(t, events, 2)
			assert.Equal(t, testutil.EventNack, events[1].Kind)
			assert.True(t, events[1].Requeue)
			assert.Equal(t, 1, broker.Pending(testQueue))
			assert.Empty(t, broker.DeadLettered(testQueue))
			assert.Zero(t, journal.Len())
		})
	}
}

func TestWorker_AckFollowsHandlerPublish(t *testing.T) {
	broker := testutil.NewBroker()
	publish(t, broker, "m1")

	startWorker(t, &Config{
		Consumer: broker,
		Handler: HandlerFunc(func(ctx context.Context, d *queue.Delivery) error {
			return broker.Publish(ctx, "downstream", queue.Message{ID: "derived-" + d.MessageID})
		}),
	})

	assert.Eventually(t, func() bool { return broker.Idle(testQueue) }, time.Second, 5*time.Millisecond)

	var order []string
	for _, e := range broker.Events() {
		order = append(order, e.Kind+":"+e.Queue)
	}
	assert.Equal(t, []string{"publish:jobs", "publish:downstream", "ack:jobs"}, order)
}

type closedConsumer struct{}

func (closedConsumer) Consume(context.Context, string, string, int) (<-chan *queue.Delivery, error) {
	ch := make(chan *queue.Delivery)
	close(ch)
	return ch, nil
}

func TestWorker_StartReportsClosedSubscription(t *testing.T) {
	w := NewWorker(&Config{
		Logger:    testutil.Logger(),
		Consumer:  closedConsumer{},
		Handler:   HandlerFunc(func(context.Context, *queue.Delivery) error { return nil }),
		QueueName: testQueue,
	})

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	w.Stop()
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&Config{Logger: testutil.Logger(), Concurrency: 4, PrefetchCount: 1})
	assert.Equal(t, 4, w.concurrency)
	assert.Equal(t, 4, w.prefetchCount)
	assert.Equal(t, DefaultJobTimeout, w.jobTimeout)
	assert.NotEmpty(t, w.workerID)
}
