package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/tts/text"
)

const (
	// HealthCheckTimeout defines the timeout for health check operations.
	HealthCheckTimeout = 10 * time.Second

	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Static errors.
var (
	ErrChunksPathEmpty = errors.New("chunks path cannot be empty")
	ErrOutputDirEmpty  = errors.New("output directory cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrNoChunksFound   = errors.New("no chunks found")
)

const (
	errFmtHealthCheckFailed     = "TTS service health check failed: %w"
	logFmtServiceHealthy        = "TTS service is healthy, processing %d chunks"
	logFmtGeneratedAudio        = "Generated audio: %s (%d bytes)"
	outputFileFormat            = "chunk_%04d.wav"
	errFmtChunkFailed           = "chunk %d failed: %w"
	logFmtChunkProcessingFailed = "Failed to process chunk %d: %v"
	logFmtChunkProcessed        = "Processed chunk %d/%d"
)

// BatchOptions fix the voice and concurrency of a batch run.
type BatchOptions struct {
	SpeakerName string
	Language    string
	Speed       float64
	Workers     int
	Timeout     time.Duration
	// Normalizer cleans each text before it is sent; nil sends text unchanged.
	Normalizer *text.Normalizer
}

// BatchRenderer renders many text chunks through the inference server, writing
// one WAV file per chunk.
type BatchRenderer struct {
	client *HTTPClient
	opts   BatchOptions
	logger *logger.Logger
}

// NewBatchRenderer creates a renderer that talks to the server through client.
func NewBatchRenderer(client *HTTPClient, opts BatchOptions, log *logger.Logger) *BatchRenderer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &BatchRenderer{client: client, opts: opts, logger: log}
}

// ProcessChunks renders a JSON array of strings into outputDir as chunk_0001.wav,
// chunk_0002.wav, and so on. A failed chunk is logged and the rest continue; the
// last failure is returned.
func (b *BatchRenderer) ProcessChunks(ctx context.Context, chunksPath, outputDir string) error {
	if chunksPath == "" {
		return ErrChunksPathEmpty
	}

	if outputDir == "" {
		return ErrOutputDirEmpty
	}

	chunks, err := readChunksFile(chunksPath)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	err = os.MkdirAll(outputDir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err = b.client.HealthCheck(healthCtx)
	if err != nil {
		return fmt.Errorf(errFmtHealthCheckFailed, err)
	}

	b.logger.Info(logFmtServiceHealthy, len(chunks))

	return b.processChunksParallel(ctx, chunks, outputDir)
}

// ProcessSingle renders text and writes the WAV to outputPath, creating parent
// directories.
func (b *BatchRenderer) ProcessSingle(ctx context.Context, input, outputPath string) error {
	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	err := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	if b.opts.Normalizer != nil {
		input = b.opts.Normalizer.Normalize(input)
	}

	audioData, err := b.client.GenerateSpeech(ctx, Request{
		Text:        input,
		SpeakerName: b.opts.SpeakerName,
		Language:    b.opts.Language,
		Speed:       b.opts.Speed,
	})
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	b.logger.Info(logFmtGeneratedAudio, outputPath, len(audioData))

	return nil
}

// readChunksFile reads a JSON file containing an array of text chunks.
func readChunksFile(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, chunksPath)
	}

	return chunks, nil
}

// processChunksParallel bounds concurrency with a semaphore of Workers slots.
func (b *BatchRenderer) processChunksParallel(ctx context.Context, chunks []string, outputDir string) error {
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		lastError error
	)

	workerPool := make(chan struct{}, b.opts.Workers)

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, chunkText string) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, index+1))

			err := b.ProcessSingle(ctx, chunkText, outputPath)
			if err != nil {
				mutex.Lock()
				lastError = fmt.Errorf(errFmtChunkFailed, index+1, err)
				mutex.Unlock()

				b.logger.Error(logFmtChunkProcessingFailed, index+1, err)

				return
			}

			b.logger.Info(logFmtChunkProcessed, index+1, len(chunks))
		}(chunkIndex, chunk)
	}

	waitGroup.Wait()

	return lastError
}
