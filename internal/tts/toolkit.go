package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/logger"
)

// Argument template placeholders.
const (
	placeholderModel  = "{model}"
	placeholderConfig = "{config}"
	placeholderPort   = "{port}"
)

const (
	loopbackHost      = "127.0.0.1"
	readyPollInterval = 200 * time.Millisecond
	stopGracePeriod   = 10 * time.Second
	maxToolkitOutput  = 16 << 10
)

var (
	// ErrNoPortPlaceholder is returned when the server template cannot receive a port.
	ErrNoPortPlaceholder = errors.New("toolkit server arguments must reference " + placeholderPort)
	// ErrToolkitExited is returned once the toolkit server process has stopped.
	ErrToolkitExited = errors.New("toolkit server exited")
	// ErrNoSpeakerList is returned when the listing command prints no speaker map.
	ErrNoSpeakerList = errors.New("no speaker map in toolkit output")
)

var (
	speakerMapPattern = regexp.MustCompile(`\{[^{}]*\}`)
	speakerKeyPattern = regexp.MustCompile(`(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")\s*:`)
)

// ToolkitOptions configure the toolkit processes behind a ToolkitSynthesizer.
type ToolkitOptions struct {
	// Command runs SpeakerArgs once to list the model's speakers. Empty SpeakerArgs
	// skip the listing and accept any speaker name.
	Command     string
	SpeakerArgs []string
	// ServerCommand is started once with ServerArgs and kept running until Close.
	ServerCommand string
	ServerArgs    []string
	UseCUDA       bool
	// StartupTimeout bounds speaker listing, model loading, and the warm-up.
	StartupTimeout time.Duration
	// Timeout bounds each synthesis call; zero leaves it to the caller's context.
	Timeout time.Duration
	// Warmup is synthesized once before StartToolkit returns.
	Warmup SynthesisWarmup
}

// SynthesisWarmup is the request used to prove the model loads and speaks.
type SynthesisWarmup struct {
	Text     string
	Speaker  string
	Language string
}

// StartToolkit lists the model's speakers, starts the toolkit server on a loopback
// port, waits for it to answer, and runs one warm-up synthesis. Any failure stops
// the process and is reported as ErrModelLoad.
func StartToolkit(ctx context.Context, model *Model, opts ToolkitOptions, log *logger.Logger) (*ToolkitSynthesizer, error) {
	if !slices.ContainsFunc(opts.ServerArgs, func(arg string) bool {
		return strings.Contains(arg, placeholderPort)
	}) {
		return nil, ErrNoPortPlaceholder
	}

	if opts.StartupTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.StartupTimeout)
		defer cancel()
	}

	speakers, err := listSpeakers(ctx, model, opts, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	args := expandTemplate(opts.ServerArgs, model, port)
	if opts.UseCUDA {
		args = append(args, "--use_cuda", "true")
	}

	proc, err := startProcess(opts.ServerCommand, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	log.Info("Started toolkit server %s on port %d (pid %d)", opts.ServerCommand, port, proc.cmd.Process.Pid)

	synth := newToolkitSynthesizer(model, speakers, proc, port, opts.Timeout, log)

	err = synth.waitReady(ctx)
	if err == nil {
		err = synth.warmUp(ctx, opts.Warmup)
	}

	if err != nil {
		_ = synth.Close()

		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	return synth, nil
}

// listSpeakers runs the toolkit's speaker listing and parses the name-to-id map it
// prints. A listing that exits non-zero means the model has no speaker manager.
func listSpeakers(ctx context.Context, model *Model, opts ToolkitOptions, log *logger.Logger) ([]string, error) {
	if len(opts.SpeakerArgs) == 0 {
		return nil, nil
	}

	// #nosec G204 -- command and arguments come from validated settings
	cmd := exec.CommandContext(ctx, opts.Command, expandTemplate(opts.SpeakerArgs, model, 0)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()

	var exitErr *exec.ExitError

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("speaker listing interrupted: %w", ctx.Err())
	case errors.As(err, &exitErr):
		log.Warn("Speaker listing exited with %v; serving without a speaker list - output: %s",
			exitErr, tail(stderr.String()))

		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to run %s: %w", opts.Command, err)
	}

	return parseSpeakerList(stdout)
}

// parseSpeakerList extracts the keys of the last map literal in the output, which
// the toolkit prints as {'name': id, ...}.
func parseSpeakerList(output []byte) ([]string, error) {
	maps := speakerMapPattern.FindAll(output, -1)
	if len(maps) == 0 {
		return nil, ErrNoSpeakerList
	}

	matches := speakerKeyPattern.FindAllSubmatch(maps[len(maps)-1], -1)
	speakers := make([]string, 0, len(matches))

	for _, match := range matches {
		name := string(match[1])
		if len(match[2]) > 0 {
			name = string(match[2])
		}

		speakers = append(speakers, name)
	}

	slices.Sort(speakers)

	return slices.Compact(speakers), nil
}

func expandTemplate(template []string, model *Model, port int) []string {
	replacer := strings.NewReplacer(
		placeholderModel, model.Checkpoint(),
		placeholderConfig, model.ConfigPath(),
		placeholderPort, strconv.Itoa(port),
	)

	args := make([]string, len(template))
	for i, arg := range template {
		args[i] = replacer.Replace(arg)
	}

	return args
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(loopbackHost, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to reserve a loopback port: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port

	err = listener.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to release port %d: %w", port, err)
	}

	return port, nil
}

// toolkitProcess is the running toolkit server. done closes when it exits.
type toolkitProcess struct {
	cmd    *exec.Cmd
	output *outputTail
	done   chan struct{}
	err    error
}

func startProcess(command string, args []string) (*toolkitProcess, error) {
	// #nosec G204 -- command and arguments come from validated settings
	cmd := exec.Command(command, args...)

	output := &outputTail{}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = stopGracePeriod

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	proc := &toolkitProcess{cmd: cmd, output: output, done: make(chan struct{})}

	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()

	return proc, nil
}

// exited reports the exit as an error once done is closed, nil before.
func (p *toolkitProcess) exited() error {
	select {
	case <-p.done:
		return fmt.Errorf("%w: %v - output: %s", ErrToolkitExited, p.err, tail(p.output.String()))
	default:
		return nil
	}
}

// stop asks the process to terminate and kills it after the grace period.
func (p *toolkitProcess) stop() {
	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

// outputTail keeps the last maxToolkitOutput bytes written by the toolkit.
type outputTail struct {
	mu  sync.Mutex
	buf []byte
}

func (o *outputTail) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buf = append(o.buf, p...)
	if over := len(o.buf) - maxToolkitOutput; over > 0 {
		o.buf = slices.Delete(o.buf, 0, over)
	}

	return len(p), nil
}

func (o *outputTail) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return string(o.buf)
}

func tail(output string) string {
	const maxLen = 2048

	output = strings.TrimSpace(output)
	if len(output) > maxLen {
		return output[len(output)-maxLen:]
	}

	return output
}
