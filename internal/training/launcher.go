package training

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
)

const outputDirPerms = 0o750

// ErrCheckpointRequired is returned when fine-tuning has neither a checkpoint nor a fetcher.
var ErrCheckpointRequired = errors.New("fine-tuning requires a checkpoint")

// ModelFetcher provides a pretrained base model.
type ModelFetcher interface {
	Fetch(ctx context.Context) (*Pretrained, error)
}

// Launcher runs the toolkit trainer as a subprocess.
type Launcher struct {
	python        string
	trainerModule string
	hp            Hyperparameters
	fetcher       ModelFetcher
	log           *logger.Logger
}

// NewLauncher creates a launcher. fetcher may be nil when fine-tuning always
// receives an explicit checkpoint.
func NewLauncher(python, trainerModule string, fetcher ModelFetcher, log *logger.Logger) *Launcher {
	return &Launcher{
		python:        python,
		trainerModule: trainerModule,
		hp:            DefaultHyperparameters(),
		fetcher:       fetcher,
		log:           log,
	}
}

// Result describes a finished training run.
type Result struct {
	ConfigPath string
	Samples    *SampleSet
	Checkpoint string
}

// Run splits the dataset, writes the trainer configuration, and blocks until the
// trainer exits. A trainer failure is returned as is.
func (l *Launcher) Run(ctx context.Context, opts Options) (*Result, error) {
	opts, err := absolutePaths(opts)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(opts.OutputPath, outputDirPerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if opts.FineTune && opts.Checkpoint == "" {
		err = l.fetchBase(ctx, &opts)
		if err != nil {
			return nil, err
		}
	}

	samples, err := PrepareSamples(opts.DataDir, opts.OutputPath, opts.EvalFraction, opts.SplitSeed)
	if err != nil {
		return nil, err
	}

	l.log.Info("Loaded %d training and %d evaluation samples", samples.TrainCount, samples.EvalCount)

	cfg := BuildConfig(opts, l.hp, samples.TrainPath, samples.EvalPath)
	configPath := filepath.Join(opts.OutputPath, ConfigFileName)

	baseConfig := ""
	if opts.FineTune {
		baseConfig = opts.BaseConfig
	}

	err = WriteConfig(configPath, baseConfig, cfg)
	if err != nil {
		return nil, err
	}

	args := []string{"-m", l.trainerModule, "--config_path", configPath}
	if opts.FineTune {
		args = append(args, "--restore_path", opts.Checkpoint)
	}

	err = l.exec(ctx, args)
	if err != nil {
		return nil, err
	}

	l.log.Info("Training finished, model saved to %s", opts.OutputPath)

	return &Result{ConfigPath: configPath, Samples: samples, Checkpoint: opts.Checkpoint}, nil
}

func (l *Launcher) fetchBase(ctx context.Context, opts *Options) error {
	if l.fetcher == nil {
		return ErrCheckpointRequired
	}

	pretrained, err := l.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pretrained model: %w", err)
	}

	opts.Checkpoint = pretrained.Checkpoint
	if opts.BaseConfig == "" {
		opts.BaseConfig = pretrained.Config
	}

	return nil
}

// exec runs the trainer and forwards each output line to the log.
func (l *Launcher) exec(ctx context.Context, args []string) error {
	// #nosec G204 -- interpreter and module come from validated settings
	cmd := exec.CommandContext(ctx, l.python, args...)

	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			l.log.Info("[trainer] %s", scanner.Text())
		}

		_, _ = io.Copy(io.Discard, reader)
	}()

	l.log.Info("Starting trainer: %s %v", l.python, args)

	runErr := cmd.Run()

	_ = writer.Close()

	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("trainer exited with error: %w", runErr)
	}

	return nil
}

func absolutePaths(opts Options) (Options, error) {
	for _, field := range []*string{&opts.DataDir, &opts.OutputPath} {
		abs, err := filepath.Abs(*field)
		if err != nil {
			return opts, fmt.Errorf("failed to resolve %s: %w", *field, err)
		}

		*field = abs
	}

	return opts, nil
}
