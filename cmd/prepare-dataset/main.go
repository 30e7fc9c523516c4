// main package for the prepare-dataset command
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/voice-model/internal/audio"
	"github.com/book-expert/voice-model/internal/cli"
	"github.com/book-expert/voice-model/internal/dataset"
	"github.com/book-expert/voice-model/internal/transcribe"
	"github.com/spf13/cobra"
)

// Flag names and defaults.
const (
	flagAudioDir   = "audio_dir"
	flagOutputDir  = "output_dir"
	flagTranscribe = "transcribe"
	flagSettings   = "settings"

	defaultAudioDir  = "source_audio"
	defaultOutputDir = "data"
	logFileName      = "prepare-dataset"
)

// Summary lines printed after a run.
const (
	msgConverted    = "%d files converted to WAV\n"
	msgSkipped      = "%d files could not be converted\n"
	msgMetadataOnly = "Source directory not found; metadata generated from existing WAV files\n"
	msgMetadata     = "Metadata for %d audio files saved to %s\n"
	msgNextSteps    = "Next steps:\n" +
		"  1. Review %s and replace placeholder transcripts where needed\n" +
		"  2. Run: train --data_dir %s\n"
)

type prepareFlags struct {
	audioDir   string
	outputDir  string
	transcribe bool
	settings   string
}

func newRootCommand() *cobra.Command {
	var flags prepareFlags

	cmd := &cobra.Command{
		Use:   "prepare-dataset",
		Short: "Convert source recordings into a training dataset",
		Long: "Converts every file in the source directory to the training waveform format " +
			"under <output_dir>/wavs and writes <output_dir>/metadata.csv.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.audioDir, flagAudioDir, defaultAudioDir, "Directory containing source recordings")
	cmd.Flags().StringVar(&flags.outputDir, flagOutputDir, defaultOutputDir, "Dataset output directory")
	cmd.Flags().BoolVar(&flags.transcribe, flagTranscribe, false, "Transcribe waveforms instead of writing placeholders")
	cmd.Flags().StringVar(&flags.settings, flagSettings, "", "Path to a TOML settings file")

	return cmd
}

func run(ctx context.Context, flags prepareFlags, out io.Writer) error {
	runtime, err := cli.Bootstrap(flags.settings, logFileName)
	if err != nil {
		return err
	}

	defer runtime.Close()

	cfg := runtime.Settings
	log := runtime.Log

	converter, err := audio.NewConverter(audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   cfg.Audio.BitDepth,
	}, cfg.Toolkit.FFmpeg)
	if err != nil {
		return fmt.Errorf("failed to create converter: %w", err)
	}

	metadata := dataset.MetadataOptions{
		SpeakerName:     cfg.Dataset.SpeakerName,
		Language:        cfg.Dataset.Language,
		PlaceholderText: cfg.Dataset.PlaceholderText,
	}

	if flags.transcribe {
		client, clientErr := transcribe.NewClientFromEnv(
			cfg.Transcription.URL,
			cfg.Transcription.Model,
			cfg.Transcription.APIKeyEnv,
		)
		if clientErr != nil {
			return fmt.Errorf("failed to create transcription client: %w", clientErr)
		}

		metadata.Transcriber = client
	}

	log.System("Preparing dataset from %s into %s", flags.audioDir, flags.outputDir)

	report, err := dataset.NewPreparer(converter, metadata, log).Run(ctx, flags.audioDir, flags.outputDir)
	if err != nil {
		log.Error("Dataset preparation failed: %v", err)

		return fmt.Errorf("dataset preparation failed: %w", err)
	}

	printReport(out, report, flags.outputDir)

	return nil
}

func printReport(out io.Writer, report *dataset.Report, outputDir string) {
	if report.MetadataOnly {
		fmt.Fprint(out, msgMetadataOnly)
	} else {
		fmt.Fprintf(out, msgConverted, report.Converted)
	}

	if len(report.Failed) > 0 {
		fmt.Fprintf(out, msgSkipped, len(report.Failed))
	}

	fmt.Fprintf(out, msgMetadata, report.Rows, report.MetadataPath)
	fmt.Fprintf(out, msgNextSteps, report.MetadataPath, outputDir)
}

func main() {
	ctx, stop := cli.SignalContext(context.Background())

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "prepare-dataset exited with error: %v\n", err)
		os.Exit(1)
	}
}
