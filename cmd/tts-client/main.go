// main package for the tts-client command
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/cli"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/book-expert/voice-model/internal/tts/text"
	"github.com/spf13/cobra"
)

// Flag descriptions.
const (
	flagTextDesc      = "Text to convert to speech"
	flagChunksDesc    = "JSON file containing text chunks to process"
	flagOutputDesc    = "Output file (.wav) for --text, output directory for --chunks"
	flagSpeakerDesc   = "Speaker name; the server default when empty"
	flagLanguageDesc  = "Language code; the server default when empty"
	flagSpeedDesc     = "Speaking rate; the server default when zero"
	flagWorkersDesc   = "Concurrent requests for --chunks"
	flagHealthDesc    = "Check TTS service health and exit"
	flagSpeakersDesc  = "List the speakers of the loaded model and exit"
	flagURLDesc       = "Base URL of the TTS server"
	flagTimeoutDesc   = "Timeout for a single request"
	flagSettingsDesc  = "Path to a TOML settings file"
	flagNormalizeDesc = "Strip references and typographic punctuation before sending"
)

// Flag names.
const (
	flagText      = "text"
	flagChunks    = "chunks"
	flagOutput    = "output"
	flagSpeaker   = "speaker"
	flagLanguage  = "language"
	flagSpeed     = "speed"
	flagWorkers   = "workers"
	flagHealth    = "health"
	flagSpeakers  = "speakers"
	flagURL       = "url"
	flagTimeout   = "timeout"
	flagSettings  = "settings"
	flagNormalize = "normalize"
)

// Defaults.
const (
	defaultURL        = "http://127.0.0.1:8000"
	defaultTimeout    = 5 * time.Minute
	defaultWorkers    = 2
	defaultOutputFile = "output.wav"
	defaultOutputDir  = "output"
	logFileName       = "tts-client"
)

// Console messages.
const (
	msgServiceHealthy   = "TTS service is healthy"
	msgServiceUnhealthy = "TTS service is not healthy: %v\n"
	msgGenerated        = "Generated: %s\n"
	msgGeneratedChunks  = "Generated audio files in: %s\n"
	msgNoSpeakers       = "The loaded model has no speaker list"
)

var (
	errEitherTextOrChunks = errors.New("either --text or --chunks must be provided")
	errCannotSpecifyBoth  = errors.New("cannot specify both --text and --chunks")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text      string
	chunks    string
	output    string
	speaker   string
	language  string
	speed     float64
	workers   int
	health    bool
	speakers  bool
	url       string
	timeout   time.Duration
	settings  string
	normalize bool
}

func newRootCommand() *cobra.Command {
	var flags appFlags

	cmd := &cobra.Command{
		Use:          "tts-client",
		Short:        "Render text through a running TTS server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateFlags(flags)
			if err != nil {
				return err
			}

			return run(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.text, flagText, "", flagTextDesc)
	cmd.Flags().StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	cmd.Flags().StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	cmd.Flags().StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	cmd.Flags().StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	cmd.Flags().Float64Var(&flags.speed, flagSpeed, 0, flagSpeedDesc)
	cmd.Flags().IntVar(&flags.workers, flagWorkers, defaultWorkers, flagWorkersDesc)
	cmd.Flags().BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	cmd.Flags().BoolVar(&flags.speakers, flagSpeakers, false, flagSpeakersDesc)
	cmd.Flags().StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	cmd.Flags().DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	cmd.Flags().StringVar(&flags.settings, flagSettings, "", flagSettingsDesc)
	cmd.Flags().BoolVar(&flags.normalize, flagNormalize, false, flagNormalizeDesc)

	return cmd
}

// validateFlags checks required and conflicting arguments before any I/O.
func validateFlags(flags appFlags) error {
	if flags.health || flags.speakers {
		return nil
	}

	if flags.text == "" && flags.chunks == "" {
		return errEitherTextOrChunks
	}

	if flags.text != "" && flags.chunks != "" {
		return errCannotSpecifyBoth
	}

	return nil
}

func run(ctx context.Context, flags appFlags, out io.Writer) error {
	runtime, err := cli.Bootstrap(flags.settings, logFileName)
	if err != nil {
		return err
	}

	defer runtime.Close()

	return execute(ctx, flags, runtime.Log, out)
}

// execute dispatches to the selected action once logging is set up.
func execute(ctx context.Context, flags appFlags, log *logger.Logger, out io.Writer) error {
	client := tts.NewHTTPClient(flags.url, flags.timeout)

	switch {
	case flags.health:
		return handleHealthCheck(ctx, client, log, out)
	case flags.speakers:
		return handleSpeakers(ctx, client, out)
	}

	opts := tts.BatchOptions{
		SpeakerName: flags.speaker,
		Language:    flags.language,
		Speed:       flags.speed,
		Workers:     flags.workers,
		Timeout:     flags.timeout,
	}

	if flags.normalize {
		opts.Normalizer = text.NewNormalizer()
	}

	renderer := tts.NewBatchRenderer(client, opts, log)

	if flags.text != "" {
		return processSingleText(ctx, renderer, log, flags.text, flags.output, out)
	}

	return processChunks(ctx, renderer, log, flags.chunks, flags.output, out)
}

func handleHealthCheck(ctx context.Context, client *tts.HTTPClient, log *logger.Logger, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, tts.HealthCheckTimeout)
	defer cancel()

	err := client.HealthCheck(ctx)
	if err != nil {
		log.Error("Health check failed: %v", err)
		fmt.Fprintf(out, msgServiceUnhealthy, err)

		return err
	}

	fmt.Fprintln(out, msgServiceHealthy)

	return nil
}

func handleSpeakers(ctx context.Context, client *tts.HTTPClient, out io.Writer) error {
	speakers, err := client.Speakers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list speakers: %w", err)
	}

	if len(speakers) == 0 {
		fmt.Fprintln(out, msgNoSpeakers)

		return nil
	}

	fmt.Fprintln(out, strings.Join(speakers, "\n"))

	return nil
}

func processSingleText(
	ctx context.Context,
	renderer *tts.BatchRenderer,
	log *logger.Logger,
	input, outputPath string,
	out io.Writer,
) error {
	if outputPath == "" {
		outputPath = defaultOutputFile
	}

	log.Info("Processing single text to: %s", outputPath)

	err := renderer.ProcessSingle(ctx, input, outputPath)
	if err != nil {
		log.Error("Failed to process text: %v", err)

		return fmt.Errorf("failed to process text: %w", err)
	}

	fmt.Fprintf(out, msgGenerated, outputPath)

	return nil
}

func processChunks(
	ctx context.Context,
	renderer *tts.BatchRenderer,
	log *logger.Logger,
	chunksPath, outputDir string,
	out io.Writer,
) error {
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	log.Info("Processing chunks from %s into %s", chunksPath, outputDir)

	err := renderer.ProcessChunks(ctx, chunksPath, outputDir)
	if err != nil {
		log.Error("Failed to process chunks: %v", err)

		return fmt.Errorf("failed to process chunks: %w", err)
	}

	fmt.Fprintf(out, msgGeneratedChunks, outputDir)

	return nil
}

func main() {
	ctx, stop := cli.SignalContext(context.Background())

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
