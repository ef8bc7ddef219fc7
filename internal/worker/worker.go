// Package worker provides a NATS worker that turns processed text pages into
// audio through the generation pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultJobTimeout bounds one job from download to upload.
const DefaultJobTimeout = 10 * time.Minute

const audioKeySuffix = ".wav"

// Metadata keys attached to uploaded audio.
const (
	metaWorkflowID  = "workflow_id"
	metaTierUsed    = "tier_used"
	metaModelUsed   = "model_used"
	metaSampleRate  = "sample_rate"
	metaContentType = "content_type"
	contentTypeWAV  = "audio/wav"
)

// ErrEmptyTextKey indicates an event without a text object key.
var ErrEmptyTextKey = errors.New("text key cannot be empty")

// Generator runs a generate request.
type Generator interface {
	Generate(ctx context.Context, req api.GenerateRequest) (orchestrator.Result, error)
}

// NatsWorker listens for TextProcessedEvents and replies with
// AudioChunkCreatedEvents.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	generator      Generator
	defaultTier    string
	jobTimeout     time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. Jobs are generated on
// defaultTier; a non-positive jobTimeout selects DefaultJobTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	generator Generator,
	defaultTier string,
	jobTimeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		textStore:      textStore,
		audioStore:     audioStore,
		generator:      generator,
		defaultTier:    defaultTier,
		jobTimeout:     jobTimeout,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight jobs finish.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for text jobs on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the page text, generates audio and uploads it.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	result, err := w.generator.Generate(ctx, api.GenerateRequest{
		Text:    string(textData),
		Tier:    w.defaultTier,
		VoiceID: event.Voice,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate audio: %w", err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.audioStore.Upload(ctx, audioKey, result.WAV, map[string]string{
		metaWorkflowID:  event.Header.WorkflowID,
		metaTierUsed:    result.TierUsed.String(),
		metaModelUsed:   result.ModelUsed,
		metaSampleRate:  strconv.Itoa(result.SampleRate),
		metaContentType: contentTypeWAV,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Page %d/%d of workflow %s synthesized on %s as %s",
		event.PageNumber, event.TotalPages, event.Header.WorkflowID, result.TierUsed, audioKey)

	return audioKey, nil
}

func publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrEmptyTextKey
	}

	return &event, nil
}
