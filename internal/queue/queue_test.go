package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/uploader"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	queue string
	msg   amqp091.Publishing
}

type fakeChannel struct {
	declared   map[string]amqp091.Table
	order      []string
	published  []published
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{declared: map[string]amqp091.Table{}}
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	if !durable {
		return amqp091.Queue{}, errors.New("queues must be durable")
	}
	c.declared[name] = args
	c.order = append(c.order, name)
	return amqp091.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	if exchange != "" {
		return fmt.Errorf("unexpected exchange %q", exchange)
	}
	c.published = append(c.published, published{queue: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func delivery(ack *fakeAck, headers amqp091.Table) amqp091.Delivery {
	return amqp091.Delivery{Acknowledger: ack, Headers: headers, Body: []byte(`{"run_id":"r1"}`)}
}

func TestSetupQueues(t *testing.T) {
	ch := newFakeChannel()
	require.NoError(t, SetupQueues(ch, []string{UploadQueue}))

	assert.Equal(t, []string{"upload_queue", "upload_queue_dlq", "upload_queue_retry"}, ch.order)
	retry := ch.declared["upload_queue_retry"]
	assert.Equal(t, "upload_queue", retry["x-dead-letter-routing-key"])
	assert.Equal(t, retryTTL, retry["x-message-ttl"])
}

func TestPublishUpload(t *testing.T) {
	ch := newFakeChannel()
	msg := UploadMessage{
		RunID:   "run-1",
		Request: uploader.TextUploadRequest{DestinationURL: "https://webuddhist.test", OpenPechaAPIURL: "https://openpecha.test", TextID: "T1"},
		Token:   "tok",
	}
	require.NoError(t, PublishUpload(context.Background(), ch, msg))

	require.Len(t, ch.published, 1)
	assert.Equal(t, UploadQueue, ch.published[0].queue)
	assert.Equal(t, amqp091.Persistent, ch.published[0].msg.DeliveryMode)

	var decoded UploadMessage
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &decoded))
	assert.Equal(t, msg, decoded)
}

type fakeRunner struct {
	started int
	runID   string
	token   string
	err     error
}

func (r *fakeRunner) Start(context.Context, uploader.TextUploadRequest) (string, error) {
	r.started++
	return "fresh-run", nil
}

func (r *fakeRunner) Run(_ context.Context, runID string, _ uploader.TextUploadRequest, token string) (*uploader.TextInstanceIds, error) {
	r.runID = runID
	r.token = token
	if r.err != nil {
		return nil, r.err
	}
	return &uploader.TextInstanceIds{NewText: map[string]string{}, AllText: map[string]string{}}, nil
}

func TestProcessUploadMessage(t *testing.T) {
	t.Run("runs the queued run id", func(t *testing.T) {
		runner := &fakeRunner{}
		err := ProcessUploadMessage(context.Background(), runner, []byte(`{"run_id":"run-1","request":{"text_id":"T1"},"token":"tok"}`), "")
		require.NoError(t, err)
		assert.Zero(t, runner.started)
		assert.Equal(t, "run-1", runner.runID)
		assert.Equal(t, "tok", runner.token)
	})

	t.Run("starts a run when none was recorded", func(t *testing.T) {
		runner := &fakeRunner{}
		require.NoError(t, ProcessUploadMessage(context.Background(), runner, []byte(`{"request":{"text_id":"T1"},"token":"tok"}`), ""))
		assert.Equal(t, 1, runner.started)
		assert.Equal(t, "fresh-run", runner.runID)
	})

	t.Run("malformed body", func(t *testing.T) {
		err := ProcessUploadMessage(context.Background(), &fakeRunner{}, []byte(`not json`), "")
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("missing text id", func(t *testing.T) {
		err := ProcessUploadMessage(context.Background(), &fakeRunner{}, []byte(`{"run_id":"r"}`), "")
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("pipeline error is returned", func(t *testing.T) {
		runner := &fakeRunner{err: uploader.ErrMissingCollection}
		err := ProcessUploadMessage(context.Background(), runner, []byte(`{"run_id":"r","request":{"text_id":"T1"},"token":"tok"}`), "")
		assert.ErrorIs(t, err, uploader.ErrMissingCollection)
	})

	t.Run("service token replaces the queued one", func(t *testing.T) {
		runner := &fakeRunner{}
		err := ProcessUploadMessage(context.Background(), runner, []byte(`{"run_id":"r","request":{"text_id":"T1"},"token":"caller"}`), "svc")
		require.NoError(t, err)
		assert.Equal(t, "svc", runner.token)
	})

	t.Run("service token covers messages without one", func(t *testing.T) {
		runner := &fakeRunner{}
		require.NoError(t, ProcessUploadMessage(context.Background(), runner, []byte(`{"run_id":"r","request":{"text_id":"T1"}}`), "svc"))
		assert.Equal(t, "svc", runner.token)
	})

	t.Run("no credential at all", func(t *testing.T) {
		runner := &fakeRunner{}
		err := ProcessUploadMessage(context.Background(), runner, []byte(`{"run_id":"r","request":{"text_id":"T1"}}`), "")
		assert.ErrorIs(t, err, ErrMalformedMessage)
		assert.Empty(t, runner.runID)
	})
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		err         error
		want        Disposition
		wantQueue   string
		wantRetries any
	}{
		{
			name:        "transient error is retried",
			err:         uploader.ErrUpstreamUnavailable,
			want:        Retried,
			wantQueue:   "upload_queue_retry",
			wantRetries: int32(1),
		},
		{
			name:        "retry count is carried",
			headers:     amqp091.Table{"x-retries": int32(1)},
			err:         uploader.ErrTransport,
			want:        Retried,
			wantQueue:   "upload_queue_retry",
			wantRetries: int32(2),
		},
		{
			name:        "retries exhausted",
			headers:     amqp091.Table{"x-retries": int32(3)},
			err:         uploader.ErrTransport,
			want:        DeadLettered,
			wantQueue:   "upload_queue_dlq",
			wantRetries: int32(3),
		},
		{
			name:      "permanent error skips retries",
			err:       &uploader.StageError{Stage: uploader.StageMetadata, Err: uploader.ErrMissingCollection},
			want:      DeadLettered,
			wantQueue: "upload_queue_dlq",
		},
		{
			name:      "malformed message skips retries",
			err:       ErrMalformedMessage,
			want:      DeadLettered,
			wantQueue: "upload_queue_dlq",
		},
		{
			name:        "busy lease does not use up a retry",
			headers:     amqp091.Table{"x-retries": int32(3)},
			err:         uploader.ErrIngestionInProgress,
			want:        Retried,
			wantQueue:   "upload_queue_retry",
			wantRetries: int32(3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			ack := &fakeAck{}

			got := HandleProcessingError(context.Background(), ch, delivery(ack, tt.headers), UploadQueue, 3, tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, ack.acked)

			require.Len(t, ch.published, 1)
			out := ch.published[0]
			assert.Equal(t, tt.wantQueue, out.queue)
			assert.Equal(t, tt.wantRetries, out.msg.Headers["x-retries"])
			assert.Equal(t, tt.err.Error(), out.msg.Headers["x-last-error"])
		})
	}
}

func TestHandleProcessingError_RequeuesWhenPublishFails(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	ack := &fakeAck{}

	got := HandleProcessingError(context.Background(), ch, delivery(ack, nil), UploadQueue, 3, uploader.ErrTransport)
	assert.Equal(t, Requeued, got)
	assert.Zero(t, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestHandleProcessingError_DeadLetterDropsToken(t *testing.T) {
	body := []byte(`{"run_id":"r1","request":{"text_id":"T1"},"token":"secret"}`)

	ch := newFakeChannel()
	msg := amqp091.Delivery{Acknowledger: &fakeAck{}, Body: body}
	require.Equal(t, DeadLettered, HandleProcessingError(context.Background(), ch, msg, UploadQueue, 3, uploader.ErrMissingCollection))
	require.Len(t, ch.published, 1)
	assert.NotContains(t, string(ch.published[0].msg.Body), "secret")
	var dead UploadMessage
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &dead))
	assert.Equal(t, "r1", dead.RunID)
	assert.Equal(t, "T1", dead.Request.TextID)
	assert.Empty(t, dead.Token)

	ch = newFakeChannel()
	msg = amqp091.Delivery{Acknowledger: &fakeAck{}, Body: body}
	require.Equal(t, Retried, HandleProcessingError(context.Background(), ch, msg, UploadQueue, 3, uploader.ErrTransport))
	assert.Equal(t, body, ch.published[0].msg.Body)
}

type fakeStale struct {
	n   int64
	err error
	got time.Duration
}

func (f *fakeStale) FailStale(_ context.Context, olderThan time.Duration) (int64, error) {
	f.got = olderThan
	return f.n, f.err
}

func TestRecoverStaleRuns(t *testing.T) {
	stale := &fakeStale{n: 2}
	require.NoError(t, RecoverStaleRuns(context.Background(), stale, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, stale.got)

	assert.Error(t, RecoverStaleRuns(context.Background(), &fakeStale{err: errors.New("db down")}, time.Minute))
}
