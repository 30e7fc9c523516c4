package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/audio"
	"github.com/book-expert/voice-model/internal/core"
)

// Toolkit server endpoints and query parameters.
const (
	toolkitSynthPath  = "/api/tts"
	toolkitReadyPath  = "/"
	queryText         = "text"
	querySpeaker      = "speaker_id"
	queryLanguage     = "language_id"
	querySpeed        = "speed"
	maxToolkitErrBody = 1024
)

var (
	// ErrSynthesisFailed is returned when the toolkit server cannot render a request.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrEmptySynthesis is returned when the toolkit answers with no samples.
	ErrEmptySynthesis = errors.New("toolkit returned no audio")
)

// ToolkitSynthesizer forwards requests to a toolkit server process that keeps the
// model loaded, and resamples its output to the model rate.
type ToolkitSynthesizer struct {
	model      *Model
	speakers   []string
	proc       *toolkitProcess
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        *logger.Logger
	closeOnce  sync.Once
}

func newToolkitSynthesizer(
	model *Model,
	speakers []string,
	proc *toolkitProcess,
	port int,
	timeout time.Duration,
	log *logger.Logger,
) *ToolkitSynthesizer {
	return &ToolkitSynthesizer{
		model:      model,
		speakers:   speakers,
		proc:       proc,
		baseURL:    "http://" + net.JoinHostPort(loopbackHost, strconv.Itoa(port)),
		httpClient: &http.Client{},
		timeout:    timeout,
		log:        log,
	}
}

// Speakers returns the speaker names the toolkit listed at startup.
func (s *ToolkitSynthesizer) Speakers() []string {
	return slices.Clone(s.speakers)
}

// Languages returns the model's language names.
func (s *ToolkitSynthesizer) Languages() []string {
	return s.model.Languages()
}

// SampleRate returns the model's output rate.
func (s *ToolkitSynthesizer) SampleRate() int {
	return s.model.SampleRate()
}

// Done is closed when the toolkit server process exits.
func (s *ToolkitSynthesizer) Done() <-chan struct{} {
	return s.proc.done
}

// Err describes why the toolkit server stopped, nil while it runs.
func (s *ToolkitSynthesizer) Err() error {
	return s.proc.exited()
}

// Close stops the toolkit server process.
func (s *ToolkitSynthesizer) Close() error {
	s.closeOnce.Do(func() {
		s.proc.stop()
		s.log.Info("Toolkit server stopped")
	})

	return nil
}

// Synthesize renders req to mono float samples at the model's sample rate.
func (s *ToolkitSynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]float32, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	query := url.Values{}
	query.Set(queryText, req.Text)

	if req.Speaker != "" {
		query.Set(querySpeaker, req.Speaker)
	}

	if req.Language != "" {
		query.Set(queryLanguage, req.Language)
	}

	if req.Speed > 0 {
		query.Set(querySpeed, strconv.FormatFloat(req.Speed, 'f', -1, 64))
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		s.baseURL+toolkitSynthPath+"?"+query.Encode(),
		http.NoBody,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrSynthesisFailed, err)
	}

	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		exitErr := s.proc.exited()
		if exitErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, exitErr)
		}

		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read toolkit response: %w", ErrSynthesisFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: toolkit server returned %s: %s",
			ErrSynthesisFailed, resp.Status, tail(string(body[:min(len(body), maxToolkitErrBody)])))
	}

	clip, err := audio.DecodeWAV(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	samples := clip.Mono().Samples

	if clip.SampleRate != s.model.SampleRate() {
		samples, err = audio.Resample(samples, clip.SampleRate, s.model.SampleRate())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
		}
	}

	return samples, nil
}

// waitReady polls the toolkit server until it answers, exits, or ctx ends.
func (s *ToolkitSynthesizer) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if s.ping(ctx) {
			return nil
		}

		select {
		case <-s.proc.done:
			return s.proc.exited()
		case <-ctx.Done():
			return fmt.Errorf("toolkit server did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *ToolkitSynthesizer) ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+toolkitReadyPath, http.NoBody)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// warmUp synthesizes once so a checkpoint the toolkit cannot run fails startup.
// Names the model does not know fall back to its first speaker and language.
func (s *ToolkitSynthesizer) warmUp(ctx context.Context, warmup SynthesisWarmup) error {
	req := core.SynthesisRequest{Text: warmup.Text, Speaker: warmup.Speaker, Language: warmup.Language}

	if len(s.speakers) > 0 && !slices.Contains(s.speakers, req.Speaker) {
		req.Speaker = s.speakers[0]
	}

	if languages := s.model.Languages(); len(languages) > 0 && !slices.Contains(languages, req.Language) {
		req.Language = languages[0]
	}

	start := time.Now()

	samples, err := s.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("warm-up synthesis failed: %w", err)
	}

	if len(samples) == 0 {
		return fmt.Errorf("warm-up synthesis failed: %w", ErrEmptySynthesis)
	}

	s.log.Info("Warm-up synthesis produced %d samples in %s", len(samples), time.Since(start))

	return nil
}
