package tts

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/book-expert/voice-model/internal/audio"
	"github.com/book-expert/voice-model/internal/core"
)

var (
	// ErrUnknownSpeaker is returned for a speaker outside the model's speaker set.
	ErrUnknownSpeaker = errors.New("invalid speaker name")
	// ErrUnknownLanguage is returned for a language outside the model's language set.
	ErrUnknownLanguage = errors.New("invalid language")
)

// Voices is the speaker and language set a synthesizer reported when a transport
// was built. Requests are validated against this snapshot.
type Voices struct {
	Speakers  []string
	Languages []string
}

// VoicesOf captures the speaker and language sets of synth.
func VoicesOf(synth core.Synthesizer) Voices {
	return Voices{Speakers: synth.Speakers(), Languages: synth.Languages()}
}

// Validate checks the request's speaker and language.
func (v Voices) Validate(req core.SynthesisRequest) error {
	err := ValidateSpeaker(v.Speakers, req.Speaker)
	if err != nil {
		return err
	}

	return ValidateLanguage(v.Languages, req.Language)
}

// ValidateSpeaker accepts any name when the model has no speakers, otherwise only a
// member of speakers. The error lists the available speakers.
func ValidateSpeaker(speakers []string, name string) error {
	if len(speakers) == 0 || slices.Contains(speakers, name) {
		return nil
	}

	return fmt.Errorf("%w. available speakers: %v", ErrUnknownSpeaker, speakers)
}

// ValidateLanguage accepts any code for a monolingual model, otherwise only a
// member of languages.
func ValidateLanguage(languages []string, code string) error {
	if len(languages) == 0 || slices.Contains(languages, code) {
		return nil
	}

	return fmt.Errorf("%w %q. available languages: %v", ErrUnknownLanguage, code, languages)
}

// Render quantizes samples to 16-bit PCM and wraps them in a WAV container.
func Render(samples []float32, sampleRate int) ([]byte, error) {
	data, err := audio.WAVBytes(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to render wav: %w", err)
	}

	return data, nil
}

// Speak validates req against voices, synthesizes it, and returns the rendered WAV.
func Speak(ctx context.Context, synth core.Synthesizer, voices Voices, req core.SynthesisRequest) ([]byte, error) {
	err := voices.Validate(req)
	if err != nil {
		return nil, err
	}

	samples, err := synth.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	return Render(samples, synth.SampleRate())
}
