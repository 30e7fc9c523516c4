// Package worker serves synthesis jobs received over NATS request/reply.
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
	"github.com/book-expert/voice-model/internal/core"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 5 * time.Minute
	defaultSpeed         = 1.0
	audioKeySuffix       = ".wav"
)

// Metadata keys recorded on uploaded audio.
const (
	MetaSpeaker    = "speaker_name"
	MetaLanguage   = "language"
	MetaSampleRate = "sample_rate"
	MetaWorkflowID = "workflow_id"
)

// ErrTextMissing is returned for jobs with neither inline text nor a text key.
var ErrTextMissing = errors.New("job has neither text nor text_key")

// SynthesisJob is the request payload. Text may be inline or stored under TextKey
// in the object store bucket.
type SynthesisJob struct {
	Header      events.EventHeader `json:"header"`
	Text        *string            `json:"text,omitempty"`
	TextKey     string             `json:"text_key,omitempty"`
	SpeakerName string             `json:"speaker_name,omitempty"`
	Language    string             `json:"language,omitempty"`
	Speed       float64            `json:"speed,omitempty"`
}

// SynthesisResult is the reply payload. Error is set instead of AudioKey on failure.
type SynthesisResult struct {
	Header     events.EventHeader `json:"header"`
	AudioKey   string             `json:"audio_key,omitempty"`
	SampleRate int                `json:"sample_rate,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Defaults fill request fields a job leaves empty.
type Defaults struct {
	Speaker  string
	Language string
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    core.Synthesizer
	voices         tts.Voices
	defaults       Defaults
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer core.Synthesizer,
	defaults Defaults,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		voices:         tts.VoicesOf(synthesizer),
		defaults:       defaults,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesis jobs on %s", w.subject)

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

	var job SynthesisJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.log.Error("Failed to unmarshal synthesis job: %v", err)
		w.reply(msg, SynthesisResult{Error: fmt.Sprintf("invalid job: %v", err)})

		return
	}

	result := SynthesisResult{Header: job.Header}

	audioKey, processErr := w.processJob(ctx, &job)
	if processErr != nil {
		w.log.Error("Failed to process synthesis job for workflow %s: %v", job.Header.WorkflowID, processErr)

		result.Error = processErr.Error()
	} else {
		result.AudioKey = audioKey
		result.SampleRate = w.synthesizer.SampleRate()

		w.log.Info("Stored audio %s for workflow %s", audioKey, job.Header.WorkflowID)
	}

	w.reply(msg, result)
}

// processJob resolves the text, synthesizes it, and uploads the WAV.
func (w *NatsWorker) processJob(ctx context.Context, job *SynthesisJob) (string, error) {
	text, err := w.resolveText(ctx, job)
	if err != nil {
		return "", err
	}

	req := core.SynthesisRequest{
		Text:     text,
		Speaker:  valueOr(job.SpeakerName, w.defaults.Speaker),
		Language: valueOr(job.Language, w.defaults.Language),
		Speed:    job.Speed,
	}

	if req.Speed <= 0 {
		req.Speed = defaultSpeed
	}

	wav, err := tts.Speak(ctx, w.synthesizer, w.voices, req)
	if err != nil {
		return "", err
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.store.Upload(ctx, audioKey, wav, map[string]string{
		MetaSpeaker:    req.Speaker,
		MetaLanguage:   req.Language,
		MetaSampleRate: strconv.Itoa(w.synthesizer.SampleRate()),
		MetaWorkflowID: job.Header.WorkflowID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func (w *NatsWorker) resolveText(ctx context.Context, job *SynthesisJob) (string, error) {
	if job.Text != nil {
		return *job.Text, nil
	}

	if job.TextKey == "" {
		return "", ErrTextMissing
	}

	data, err := w.store.Download(ctx, job.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", job.TextKey, err)
	}

	return string(data), nil
}

func (w *NatsWorker) reply(msg *nats.Msg, result SynthesisResult) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", result.Header.WorkflowID, err)
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
