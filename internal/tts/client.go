package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// API endpoints and paths.
const (
	apiSynthesize = "/tts"
	apiSpeakers   = "/speakers"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceError       = "TTS service error (%s): %s"
	errFmtServiceNonOKStatus = "TTS service returned non-OK status: %s, body: %s"
)

// ErrEmptyAudio is returned when the service answers with an empty body.
var ErrEmptyAudio = errors.New("received empty audio data")

// HTTPClient represents a client for the voice model inference server.
// It encapsulates the HTTP configuration and provides methods for
// speech generation, speaker listing, and health monitoring.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// Request defines the JSON payload of POST /tts.
type Request struct {
	// Text contains the input text to convert to speech. The server passes
	// empty text through to the synthesizer.
	Text string `json:"text"`

	// SpeakerName selects a trained speaker. The server defaults it when omitted.
	SpeakerName string `json:"speaker_name,omitempty"`

	// Language is the target language code (e.g., "ko", "en").
	Language string `json:"language,omitempty"`

	// Speed scales the speaking rate; 1.0 is normal.
	Speed float64 `json:"speed,omitempty"`
}

// ErrorResponse represents a structured error response from the server.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`
}

// SpeakersResponse is the body of GET /speakers.
type SpeakersResponse struct {
	Speakers []string `json:"speakers"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewHTTPClient creates and configures an HTTP client for the inference server.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
// The timeout applies to all HTTP requests made by this client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateSpeech sends a synthesis request and returns the WAV bytes.
//
// The returned audio data is a complete WAV file. Callers are responsible for
// writing this data to files or streaming it as needed.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req Request) ([]byte, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to TTS service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// Speakers returns the speaker names the server loaded.
func (c *HTTPClient) Speakers(ctx context.Context) ([]string, error) {
	var body SpeakersResponse

	err := c.getJSON(ctx, apiSpeakers, &body)
	if err != nil {
		return nil, err
	}

	return body.Speakers, nil
}

// HealthCheck verifies that the server is running and has a model loaded.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	var body HealthResponse

	err := c.getJSON(ctx, apiHealth, &body)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}

	if !body.ModelLoaded {
		return fmt.Errorf("health check failed: status %q without a loaded model", body.Status)
	}

	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the server.
// If structured parsing fails, it falls back to returning the raw response body
// to ensure diagnostic information is preserved.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceError, resp.Status, errorResp.Detail)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
