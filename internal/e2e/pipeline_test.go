// Package e2e runs admission and both workers against in-memory
// infrastructure to check the whole upload to notification path.
package e2e

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/admission"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/cuongbtq/transcode-pipeline/internal/blobstore"
	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/notify"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/cuongbtq/transcode-pipeline/internal/testutil"
	"github.com/cuongbtq/transcode-pipeline/internal/transcode"
	"github.com/cuongbtq/transcode-pipeline/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscoder struct{}

func (fakeTranscoder) Transcode(_ context.Context, src []byte) ([]byte, error) {
	return append([]byte("mp3:"), src...), nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Mail
}

func (m *recordingMailer) Send(_ context.Context, mail notify.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

func (m *recordingMailer) Sent() []notify.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Mail(nil), m.sent...)
}

type pipeline struct {
	gate      *auth.Gate
	store     *blobstore.Memory
	broker    *testutil.Broker
	mailer    *recordingMailer
	admission *admission.Service
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	gate, err := auth.NewGate([]byte("pipeline-secret"))
	require.NoError(t, err)

	p := &pipeline{
		gate:   gate,
		store:  blobstore.NewMemory(),
		broker: testutil.NewBroker(),
		mailer: &recordingMailer{},
	}
	p.admission = admission.NewService(gate, p.store, p.broker, admission.DefaultConfig(), testutil.Logger())
	return p
}

// startWorkers runs both workers until the test ends
func (p *pipeline) startWorkers(t *testing.T) {
	t.Helper()
	logger := testutil.Logger()

	workers := []*worker.Worker{
		worker.NewWorker(&worker.Config{
			Logger:        logger,
			Consumer:      p.broker,
			Handler:       transcode.NewHandler(p.store, fakeTranscoder{}, p.broker, transcode.DefaultConfig(), logger),
			QueueName:     domain.TranscodeQueue,
			Concurrency:   2,
			PrefetchCount: 2,
		}),
		worker.NewWorker(&worker.Config{
			Logger:        logger,
			Consumer:      p.broker,
			Handler:       notify.NewHandler(p.mailer, "noreply@x.com", time.Second, logger),
			QueueName:     domain.NotifyQueue,
			Concurrency:   1,
			PrefetchCount: 1,
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			assert.NoError(t, w.Start(ctx))
		}(w)
	}

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		for _, w := range workers {
			w.Stop()
		}
	})
}

func (p *pipeline) token(t *testing.T, subject string, isAdmin bool) string {
	t.Helper()
	_, token, err := p.gate.Issue(subject, isAdmin)
	require.NoError(t, err)
	return token
}

func (p *pipeline) settled() bool {
	return p.broker.Idle(domain.TranscodeQueue) && p.broker.Idle(domain.NotifyQueue)
}

var clip = admission.Upload{Filename: "clip.mp4", ContentType: "video/mp4", Data: []byte("video-bytes")}

func TestPipeline_AdminUploadIsNotifiedOnce(t *testing.T) {
	p := newPipeline(t)
	p.startWorkers(t)

	accepted, err := p.admission.Admit(context.Background(), p.token(t, "admin@x.com", true), []admission.Upload{clip})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(p.mailer.Sent()) == 1 && p.settled()
	}, 2*time.Second, 10*time.Millisecond)

	notifies := p.broker.Published(domain.NotifyQueue)
	require.Len(t, notifies, 1)
	job, err := domain.DecodeNotifyJob(notifies[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "admin@x.com", job.Recipient)

	mp3, err := p.store.Get(context.Background(), job.ResultBlobID)
	require.NoError(t, err)
	assert.Equal(t, "mp3:video-bytes", string(mp3))

	sent := p.mailer.Sent()
	assert.Equal(t, "admin@x.com", sent[0].To)
	assert.Equal(t, notify.Subject, sent[0].Subject)
	assert.Equal(t, notify.Body(job.ResultBlobID), sent[0].Body)

	// source and result blobs
	assert.Equal(t, 2, p.store.Len())
	assert.Equal(t, accepted.JobID, p.broker.Published(domain.TranscodeQueue)[0].ID)
}

func TestPipeline_NonAdminWritesNothing(t *testing.T) {
	p := newPipeline(t)
	p.startWorkers(t)

	_, err := p.admission.Admit(context.Background(), p.token(t, "user@x.com", false), []admission.Upload{clip})

	require.ErrorIs(t, err, admission.ErrForbidden)
	assert.Zero(t, p.store.Len())
	assert.Empty(t, p.broker.Events())
	assert.Empty(t, p.mailer.Sent())
}

func TestPipeline_NotifyPublishedBeforeTranscodeAck(t *testing.T) {
	p := newPipeline(t)
	p.startWorkers(t)

	_, err := p.admission.Admit(context.Background(), p.token(t, "admin@x.com", true), []admission.Upload{clip})
	require.NoError(t, err)

	require.Eventually(t, p.settled, 2*time.Second, 10*time.Millisecond)

	notifyAt, ackAt := -1, -1
	for i, e := range p.broker.Events() {
		switch {
		case e.Kind == testutil.EventPublish && e.Queue == domain.NotifyQueue:
			notifyAt = i
		case e.Kind == testutil.EventAck && e.Queue == domain.TranscodeQueue:
			ackAt = i
		}
	}
	require.NotEqual(t, -1, notifyAt)
	require.NotEqual(t, -1, ackAt)
	assert.Less(t, notifyAt, ackAt)
}

func TestPipeline_TranscodePublishFailureIsRedelivered(t *testing.T) {
	p := newPipeline(t)
	p.broker.FailPublishes(domain.NotifyQueue, 1, errors.New("channel closed"))
	p.startWorkers(t)

	_, err := p.admission.Admit(context.Background(), p.token(t, "admin@x.com", true), []admission.Upload{clip})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(p.mailer.Sent()) == 1 && p.settled()
	}, 2*time.Second, 10*time.Millisecond)

	var requeued int
	for _, e := range p.broker.Events() {
		if e.Kind == testutil.EventNack && e.Queue == domain.TranscodeQueue && e.Requeue {
			requeued++
		}
	}
	assert.Equal(t, 1, requeued)
	assert.Len(t, p.broker.Published(domain.NotifyQueue), 1)
	// source, the orphaned first result and the delivered result
	assert.Equal(t, 3, p.store.Len())
}

func TestPipeline_MalformedNotifyIsDeadLetteredAndWorkerContinues(t *testing.T) {
	p := newPipeline(t)
	p.startWorkers(t)

	bad := queue.Message{ID: "bad", Body: []byte(`{"mp3_fid": ""}`)}
	require.NoError(t, p.broker.Publish(context.Background(), domain.NotifyQueue, bad))

	good, err := domain.NotifyJob{ResultBlobID: "mp3-1", Recipient: "admin@x.com"}.Encode()
	require.NoError(t, err)
	require.NoError(t, p.broker.Publish(context.Background(), domain.NotifyQueue, queue.Message{ID: "good", Body: good}))

	require.Eventually(t, func() bool {
		return len(p.mailer.Sent()) == 1 && p.settled()
	}, 2*time.Second, 10*time.Millisecond)

	dead := p.broker.DeadLettered(domain.NotifyQueue)
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].ID)
	assert.Equal(t, "admin@x.com", p.mailer.Sent()[0].To)
	assert.Equal(t, 1, p.broker.MaxInFlight(domain.NotifyQueue))
}
