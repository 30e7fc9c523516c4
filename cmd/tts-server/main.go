// main package for the tts-server command
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/cli"
	"github.com/book-expert/voice-model/internal/config"
	"github.com/book-expert/voice-model/internal/core"
	"github.com/book-expert/voice-model/internal/objectstore"
	"github.com/book-expert/voice-model/internal/server"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/book-expert/voice-model/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// Flag names and defaults.
const (
	flagModelPath  = "model_path"
	flagConfigPath = "config_path"
	flagHost       = "host"
	flagPort       = "port"
	flagSettings   = "settings"

	defaultHost = "0.0.0.0"
	defaultPort = 8000
	logFileName = "tts-server"
)

type serverFlags struct {
	modelPath  string
	configPath string
	host       string
	port       int
	settings   string
	// hostSet and portSet record flags given on the command line, which win over
	// the settings file even when they hold zero values.
	hostSet bool
	portSet bool
}

// supervisedSynthesizer is a synthesizer backed by a process that can exit.
type supervisedSynthesizer interface {
	core.Synthesizer
	Done() <-chan struct{}
	Err() error
}

func newRootCommand() *cobra.Command {
	return newCommand(run)
}

// newCommand builds the command around runner, which receives the parsed flags.
func newCommand(runner func(context.Context, serverFlags) error) *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   "tts-server",
		Short: "Serve a trained voice model over HTTP",
		Long: "Loads a trained checkpoint and its configuration, then answers synthesis " +
			"requests on POST /tts until interrupted.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.hostSet = cmd.Flags().Changed(flagHost)
			flags.portSet = cmd.Flags().Changed(flagPort)

			return runner(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.modelPath, flagModelPath, "", "Trained model checkpoint")
	cmd.Flags().StringVar(&flags.configPath, flagConfigPath, "", "Model configuration file")
	cmd.Flags().StringVar(&flags.host, flagHost, defaultHost, "Address to bind")
	cmd.Flags().IntVar(&flags.port, flagPort, defaultPort, "Port to bind")
	cmd.Flags().StringVar(&flags.settings, flagSettings, "", "Path to a TOML settings file")

	_ = cmd.MarkFlagRequired(flagModelPath)
	_ = cmd.MarkFlagRequired(flagConfigPath)

	return cmd
}

// listenAddress prefers explicit flags over the settings file.
func listenAddress(flags serverFlags, cfg *config.Settings) string {
	host := cfg.Server.Host
	if flags.hostSet {
		host = flags.host
	}

	port := cfg.Server.Port
	if flags.portSet {
		port = flags.port
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func run(ctx context.Context, flags serverFlags) error {
	runtime, err := cli.Bootstrap(flags.settings, logFileName)
	if err != nil {
		return err
	}

	defer runtime.Close()

	cfg := runtime.Settings
	log := runtime.Log

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	model, err := tts.LoadModel(flags.modelPath, flags.configPath)
	if err != nil {
		log.Error("Failed to load model: %v", err)

		return err
	}

	log.Info("Starting toolkit for %s", flags.modelPath)

	synth, err := tts.StartToolkit(ctx, model, tts.ToolkitOptions{
		Command:        cfg.Toolkit.Command,
		SpeakerArgs:    cfg.Toolkit.SpeakerArgs,
		ServerCommand:  cfg.Toolkit.ServerCommand,
		ServerArgs:     cfg.Toolkit.ServerArgs,
		UseCUDA:        cfg.Toolkit.UseCUDA,
		StartupTimeout: cfg.StartupTimeout(),
		Timeout:        cfg.SynthTimeout(),
		Warmup: tts.SynthesisWarmup{
			Text:     cfg.Toolkit.WarmupText,
			Speaker:  cfg.Server.DefaultSpeaker,
			Language: cfg.Server.DefaultLanguage,
		},
	}, log)
	if err != nil {
		log.Error("Failed to load model: %v", err)

		return err
	}

	defer synth.Close()

	engine, err := server.New(server.Deps{
		Synthesizer:     synth,
		DefaultSpeaker:  cfg.Server.DefaultSpeaker,
		DefaultLanguage: cfg.Server.DefaultLanguage,
		IndexPath:       cfg.Server.IndexPath,
		Log:             log,
	})
	if err != nil {
		return err
	}

	addr := listenAddress(flags, cfg)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	log.System("Model %s loaded with %d speakers, serving on %s",
		flags.modelPath, len(synth.Speakers()), listener.Addr())

	return serveAll(ctx, cfg, listener, engine, synth, log)
}

// serveAll runs the HTTP server and, when NATS is configured, the synthesis
// worker. Either one failing, or the toolkit process exiting, stops both.
func serveAll(
	ctx context.Context,
	cfg *config.Settings,
	listener net.Listener,
	engine *gin.Engine,
	synth supervisedSynthesizer,
	log *logger.Logger,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 3)
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		select {
		case <-synth.Done():
			errs[2] = synth.Err()
			log.Error("Toolkit server stopped while serving: %v", errs[2])
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			_ = listener.Close()

			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		defer conn.Close()

		natsWorker, err := newWorker(conn, cfg, synth, log)
		if err != nil {
			_ = listener.Close()

			return err
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer cancel()

			errs[1] = natsWorker.Run(ctx)
		}()
	}

	errs[0] = server.Serve(ctx, listener, engine, log)

	cancel()
	wg.Wait()

	return errors.Join(errs...)
}

func newWorker(conn *nats.Conn, cfg *config.Settings, synth core.Synthesizer, log *logger.Logger) (*worker.NatsWorker, error) {
	jetStream, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetStream, cfg.NATS.AudioBucket)
	if err != nil {
		return nil, err
	}

	defaults := worker.Defaults{
		Speaker:  cfg.Server.DefaultSpeaker,
		Language: cfg.Server.DefaultLanguage,
	}

	return worker.NewNatsWorker(conn, cfg.NATS.SynthesisSubject, store, synth, defaults, log), nil
}

func main() {
	ctx, stop := cli.SignalContext(context.Background())

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "tts-server exited with error: %v\n", err)
		os.Exit(1)
	}
}
