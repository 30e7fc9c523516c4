// Package transcribe fills dataset transcripts from an OpenAI-compatible
// speech-to-text endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Error messages.
const (
	errFailedToOpenFile        = "failed to open audio file: %w"
	errFailedToCreateFormFile  = "failed to create form file: %w"
	errFailedToCopyFileData    = "failed to copy file data: %w"
	errFailedToWriteModelField = "failed to write model field: %w"
	errFailedToWriteLangField  = "failed to write language field: %w"
	errFailedToCloseWriter     = "failed to close multipart writer: %w"
	errFailedToCreateRequest   = "failed to create request: %w"
	errFailedToMakeRequest     = "failed to make request: %w"
	errFailedToDecodeResponse  = "failed to decode response: %w"
	errFmtAPIRequestFailed     = "%w: status %d: %s"
)

// Form field names.
const (
	formFieldFile     = "file"
	formFieldModel    = "model"
	formFieldLanguage = "language"
)

const defaultTimeout = 60 * time.Second

var (
	// ErrAPIKeyMissing is returned when the configured key variable is empty.
	ErrAPIKeyMissing = errors.New("transcription API key not set")
	// ErrRequestFailed is returned for non-200 responses.
	ErrRequestFailed = errors.New("transcription request failed")
)

// Client uploads waveforms for transcription.
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
	model      string
}

// Response is the transcription endpoint's JSON body.
type Response struct {
	Text string `json:"text"`
}

// NewClient creates a client for endpoint using model.
func NewClient(endpoint, model, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		apiKey:     apiKey,
		endpoint:   endpoint,
		model:      model,
	}
}

// NewClientFromEnv reads the API key from the named environment variable.
func NewClientFromEnv(endpoint, model, apiKeyEnv string) (*Client, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrAPIKeyMissing, apiKeyEnv)
	}

	return NewClient(endpoint, model, apiKey), nil
}

// TranscribeFile returns the transcript of the audio file at audioPath.
func (c *Client) TranscribeFile(ctx context.Context, audioPath, language string) (string, error) {
	body, contentType, err := c.buildForm(audioPath, language)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf(errFailedToCreateRequest, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf(errFailedToMakeRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)

		return "", fmt.Errorf(errFmtAPIRequestFailed, ErrRequestFailed, resp.StatusCode, string(raw))
	}

	var parsed Response

	err = json.NewDecoder(resp.Body).Decode(&parsed)
	if err != nil {
		return "", fmt.Errorf(errFailedToDecodeResponse, err)
	}

	return parsed.Text, nil
}

func (c *Client) buildForm(audioPath, language string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToOpenFile, err)
	}
	defer file.Close()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCopyFileData, err)
	}

	err = writer.WriteField(formFieldModel, c.model)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteModelField, err)
	}

	if language != "" {
		err = writer.WriteField(formFieldLanguage, language)
		if err != nil {
			return nil, "", fmt.Errorf(errFailedToWriteLangField, err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}
