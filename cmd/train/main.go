// main package for the train command
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/voice-model/internal/cli"
	"github.com/book-expert/voice-model/internal/training"
	"github.com/spf13/cobra"
)

// Flag names and defaults.
const (
	flagDataDir        = "data_dir"
	flagOutputPath     = "output_path"
	flagRunName        = "run_name"
	flagFineTune       = "fine_tune"
	flagCheckpoint     = "checkpoint"
	flagConfig         = "config"
	flagSpeakerEncoder = "speaker_encoder"
	flagDVectorFile    = "d_vector_file"
	flagSettings       = "settings"

	defaultDataDir    = "data"
	defaultOutputPath = "output"
	defaultRunName    = "yourtts-korean"
	logFileName       = "train"
)

const (
	msgSamples  = "Training samples: %d, evaluation samples: %d\n"
	msgConfig   = "Trainer configuration written to %s\n"
	msgFinished = "Training finished. Checkpoints are under %s\n"
)

func newRootCommand() *cobra.Command {
	var (
		opts     training.Options
		settings string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train or fine-tune a voice model on a prepared dataset",
		Long: "Splits the dataset metadata, writes the trainer configuration into the output " +
			"directory, and runs the toolkit trainer until it exits.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, settings, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, flagDataDir, defaultDataDir, "Prepared dataset directory")
	cmd.Flags().StringVar(&opts.OutputPath, flagOutputPath, defaultOutputPath, "Training output directory")
	cmd.Flags().StringVar(&opts.RunName, flagRunName, defaultRunName, "Name of the training run")
	cmd.Flags().BoolVar(&opts.FineTune, flagFineTune, false, "Fine-tune from a pretrained checkpoint")
	cmd.Flags().StringVar(&opts.Checkpoint, flagCheckpoint, "", "Checkpoint to restore from")
	cmd.Flags().StringVar(&opts.BaseConfig, flagConfig, "", "Base trainer configuration to extend")
	cmd.Flags().StringVar(&opts.SpeakerEncoder, flagSpeakerEncoder, "", "Speaker encoder checkpoint")
	cmd.Flags().StringVar(&opts.DVectorFile, flagDVectorFile, "", "Precomputed speaker embeddings file")
	cmd.Flags().StringVar(&settings, flagSettings, "", "Path to a TOML settings file")

	return cmd
}

func run(ctx context.Context, opts training.Options, settingsPath string, out io.Writer) error {
	runtime, err := cli.Bootstrap(settingsPath, logFileName)
	if err != nil {
		return err
	}

	defer runtime.Close()

	cfg := runtime.Settings
	log := runtime.Log

	opts.Language = cfg.Dataset.Language
	opts.EvalFraction = cfg.Dataset.EvalSplit
	opts.SplitSeed = cfg.Dataset.SplitSeed

	registry, err := training.NewRegistry(cfg.Registry.ModelName, cfg.Registry.URL, cfg.Registry.CacheDir, log)
	if err != nil {
		return fmt.Errorf("failed to open model registry: %w", err)
	}

	launcher := training.NewLauncher(cfg.Toolkit.Python, cfg.Toolkit.TrainerModule, registry, log)

	log.System("Starting training run %s from %s", opts.RunName, opts.DataDir)

	result, err := launcher.Run(ctx, opts)
	if err != nil {
		log.Error("Training failed: %v", err)

		return fmt.Errorf("training failed: %w", err)
	}

	fmt.Fprintf(out, msgSamples, result.Samples.TrainCount, result.Samples.EvalCount)
	fmt.Fprintf(out, msgConfig, result.ConfigPath)
	fmt.Fprintf(out, msgFinished, opts.OutputPath)

	return nil
}

func main() {
	ctx, stop := cli.SignalContext(context.Background())

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "train exited with error: %v\n", err)
		os.Exit(1)
	}
}
