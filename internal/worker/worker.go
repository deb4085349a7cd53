// Package worker provides a NATS worker that processes speech generation
// jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voiceforge/sovits-service/internal/core"
	"github.com/voiceforge/sovits-service/internal/events"
	"github.com/voiceforge/sovits-service/internal/metrics"
)

const handleMessageTimeout = 120 * time.Second

var (
	// ErrTextKeyEmpty indicates the event carries no text object key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrSpeakerEmpty indicates the event names no speaker.
	ErrSpeakerEmpty = errors.New("speaker cannot be empty")
	// ErrTopPRange indicates TopP is outside [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrTemperatureRange indicates a negative temperature.
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrSpeedFactorRange indicates a speed factor outside [0.5, 2.0].
	ErrSpeedFactorRange = errors.New("speed_factor must be between 0.5 and 2.0")
)

// NatsWorker listens for speech requests on a NATS subject and synthesizes
// them through the engine.
type NatsWorker struct {
	natsConnection   *nats.Conn
	jetstreamContext nats.JetStreamContext
	subject          string
	store            core.ObjectStore
	synthesizer      core.Synthesizer
	log              *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	subject string,
	store core.ObjectStore,
	synthesizer core.Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection:   natsConnection,
		jetstreamContext: jetstreamContext,
		subject:          subject,
		store:            store,
		synthesizer:      synthesizer,
		log:              log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processSpeechJob(ctx, event)
	if processErr != nil {
		metrics.SpeechGenerations.WithLabelValues(event.Speaker, metrics.OutcomeFailure).Inc()
		w.log.Error("Failed to process speech job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	metrics.SpeechGenerations.WithLabelValues(event.Speaker, metrics.OutcomeSuccess).Inc()

	replyEvent := &events.SpeechGeneratedEvent{
		Header:   event.Header,
		AudioKey: audioKey,
		Speaker:  event.Speaker,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processSpeechJob downloads the text, synthesizes it, and uploads the audio.
func (w *NatsWorker) processSpeechJob(
	ctx context.Context,
	event *events.SpeechRequestedEvent,
) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	params := core.GenerationParams{
		Language:    event.Language,
		TopK:        event.TopK,
		TopP:        event.TopP,
		Temperature: event.Temperature,
		SpeedFactor: event.SpeedFactor,
	}

	started := time.Now()

	audioData, err := w.synthesizer.Synthesize(ctx, string(textData), event.Speaker, params)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	metrics.SynthesisDuration.Observe(time.Since(started).Seconds())

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the SpeechGeneratedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.SpeechGeneratedEvent) error {
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

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.SpeechRequestedEvent, error) {
	var event events.SpeechRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	validationErr := validateEvent(&event)
	if validationErr != nil {
		return nil, validationErr
	}

	return &event, nil
}

// validateEvent rejects events the synthesis service would refuse anyway, so
// bad requests fail before any object store traffic.
func validateEvent(event *events.SpeechRequestedEvent) error {
	if event.TextKey == "" {
		return ErrTextKeyEmpty
	}

	if event.Speaker == "" {
		return ErrSpeakerEmpty
	}

	if event.TopP < 0.0 || event.TopP > 1.0 {
		return fmt.Errorf("%w: got %f", ErrTopPRange, event.TopP)
	}

	if event.Temperature < 0.0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, event.Temperature)
	}

	if event.SpeedFactor != 0 && (event.SpeedFactor < 0.5 || event.SpeedFactor > 2.0) {
		return fmt.Errorf("%w: got %f", ErrSpeedFactorRange, event.SpeedFactor)
	}

	return nil
}
