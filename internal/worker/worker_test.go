package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/objectstore"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "text.processed"

var (
	errMockDownload = errors.New("mock download error")
	errMockGenerate = &orchestrator.Error{Kind: orchestrator.ErrNoBackendReady, Message: "no TTS backend is ready"}
)

type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
	uploadedMetadata   map[string]string
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return []byte("sample text"), nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploadedKey = key
	m.uploadedData = data
	m.uploadedMetadata = metadata

	return nil
}

func (m *mockObjectStore) uploaded() (string, []byte, map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploadedKey, m.uploadedData, m.uploadedMetadata
}

func (m *mockObjectStore) downloaded() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey
}

type mockGenerator struct {
	mu       sync.Mutex
	received []api.GenerateRequest
	err      error
}

func (m *mockGenerator) Generate(_ context.Context, req api.GenerateRequest) (orchestrator.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = append(m.received, req)
	if m.err != nil {
		return orchestrator.Result{}, m.err
	}

	return orchestrator.Result{
		WAV:        []byte("sample audio"),
		SampleRate: 24000,
		TierUsed:   tier.Fast,
		ModelUsed:  "kokoro-82m",
	}, nil
}

func (m *mockGenerator) requests() []api.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]api.GenerateRequest(nil), m.received...)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	return natsConnection
}

// startWorker runs the worker until the test ends and waits for its
// subscription.
func startWorker(t *testing.T, natsConnection *nats.Conn, workerInstance *worker.NatsWorker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func newEvent(t *testing.T, textKey string) (*events.TextProcessedEvent, []byte) {
	t.Helper()

	event := &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:    textKey,
		PageNumber: 3,
		TotalPages: 10,
		Voice:      "bm_george",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	return event, data
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	textStore := &mockObjectStore{}
	audioStore := &mockObjectStore{}
	generator := &mockGenerator{}

	workerInstance := worker.NewNatsWorker(natsConnection, testSubject, textStore, audioStore, generator,
		tier.NameNormal, time.Minute, newTestLogger(t))
	startWorker(t, natsConnection, workerInstance)

	event, data := newEvent(t, "test-text-key")

	replyMsg, err := natsConnection.Request(testSubject, data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	assert.Equal(t, "test-text-key", textStore.downloaded())

	received := generator.requests()
	require.Len(t, received, 1)
	assert.Equal(t, "sample text", received[0].Text)
	assert.Equal(t, tier.NameNormal, received[0].Tier)
	assert.Equal(t, "bm_george", received[0].VoiceID)

	uploadedKey, uploadedData, metadata := audioStore.uploaded()
	assert.Regexp(t, `^[0-9a-f-]{36}\.wav$`, uploadedKey)
	assert.Equal(t, []byte("sample audio"), uploadedData)
	assert.Equal(t, "fast", metadata["tier_used"])
	assert.Equal(t, "24000", metadata["sample_rate"])
	assert.Equal(t, event.Header.WorkflowID, metadata["workflow_id"])

	assert.Equal(t, uploadedKey, replyEvent.AudioKey)
	assert.Equal(t, event.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, event.PageNumber, replyEvent.PageNumber)
	assert.Equal(t, event.TotalPages, replyEvent.TotalPages)
}

func TestMessageHandler_FailuresSendNoReply(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		downloadFail bool
		generateErr  error
		payload      []byte
	}{
		{name: "download", downloadFail: true},
		{name: "generate", generateErr: errMockGenerate},
		{name: "malformed event", payload: []byte("{not json")},
		{name: "missing text key", payload: []byte(`{}`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			natsConnection := createTestNatsClient(t)
			audioStore := &mockObjectStore{}
			generator := &mockGenerator{err: tc.generateErr}

			workerInstance := worker.NewNatsWorker(natsConnection, testSubject,
				&mockObjectStore{downloadShouldFail: tc.downloadFail}, audioStore, generator,
				tier.NameFast, 0, newTestLogger(t))
			startWorker(t, natsConnection, workerInstance)

			payload := tc.payload
			if payload == nil {
				_, payload = newEvent(t, "page.txt")
			}

			_, err := natsConnection.Request(testSubject, payload, 300*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout)
			uploadedKey, _, _ := audioStore.uploaded()
			assert.Empty(t, uploadedKey)
		})
	}
}

func TestMessageHandler_WithJetStreamBuckets(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	textStore, err := objectstore.New(jetstreamContext, "text-files")
	require.NoError(t, err)

	audioStore, err := objectstore.New(jetstreamContext, "audio-files")
	require.NoError(t, err)

	require.NoError(t, textStore.Upload(context.Background(), "page-3.txt", []byte("It was a dark night."), nil))

	workerInstance := worker.NewNatsWorker(natsConnection, testSubject, textStore, audioStore, &mockGenerator{},
		tier.NameFast, time.Minute, newTestLogger(t))
	startWorker(t, natsConnection, workerInstance)

	_, data := newEvent(t, "page-3.txt")

	replyMsg, err := natsConnection.Request(testSubject, data, 5*time.Second)
	require.NoError(t, err)

	var replyEvent events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	audio, err := audioStore.Download(context.Background(), replyEvent.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample audio"), audio)
}
