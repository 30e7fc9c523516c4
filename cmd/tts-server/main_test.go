package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-model/internal/config"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAddressPrefersFlags(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9100

	assert.Equal(t, "127.0.0.1:9100", listenAddress(serverFlags{host: defaultHost, port: defaultPort}, &cfg))
	assert.Equal(t, "0.0.0.0:9100", listenAddress(serverFlags{host: "0.0.0.0", hostSet: true}, &cfg))
	assert.Equal(t, "127.0.0.1:8080", listenAddress(serverFlags{port: 8080, portSet: true}, &cfg))
	assert.Equal(t, "[::1]:8000", listenAddress(serverFlags{host: "::1", hostSet: true, port: 8000, portSet: true}, &cfg))
	assert.Equal(t, "127.0.0.1:0", listenAddress(serverFlags{port: 0, portSet: true}, &cfg))
}

func TestExplicitZeroPortReachesListenAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9100

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "settings port", args: nil, want: "127.0.0.1:9100"},
		{name: "explicit zero port", args: []string{"--port", "0"}, want: "127.0.0.1:0"},
		{name: "explicit host", args: []string{"--host", "0.0.0.0"}, want: "0.0.0.0:9100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen serverFlags

			cmd := newCommand(func(_ context.Context, flags serverFlags) error {
				seen = flags

				return nil
			})
			cmd.SetArgs(append([]string{"--model_path", "m.pth", "--config_path", "c.json"}, tt.args...))
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.want, listenAddress(seen, &cfg))
		})
	}
}

func TestRunFailsBeforeListeningWhenModelCannotLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	checkpoint := filepath.Join(dir, "best_model.pth")
	modelConfig := filepath.Join(dir, "config.json")
	settings := filepath.Join(dir, "settings.toml")

	require.NoError(t, os.WriteFile(checkpoint, []byte("weights"), 0o600))
	require.NoError(t, os.WriteFile(modelConfig, []byte(`{"audio": {"sample_rate": 22050}}`), 0o600))

	// The toolkit dies while loading the checkpoint; {port} lands in $0.
	require.NoError(t, os.WriteFile(settings, []byte(fmt.Sprintf(`
[paths]
logs_dir = %q

[server]
host = "127.0.0.1"

[toolkit]
speaker_args = []
server_command = "/bin/sh"
server_args = ["-c", "echo 'invalid load key' >&2; exit 1", "{port}"]
startup_seconds = 30
`, filepath.Join(dir, "logs"))), 0o600))

	err := run(context.Background(), serverFlags{
		modelPath:  checkpoint,
		configPath: modelConfig,
		port:       0,
		portSet:    true,
		settings:   settings,
	})
	require.ErrorIs(t, err, tts.ErrModelLoad)
	assert.Contains(t, err.Error(), "invalid load key")
}

func TestModelFlagsAreRequired(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config_path", "config.json"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), flagModelPath)
}

func TestFlagDefaults(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--model_path", "best_model.pth", "--config_path", "config.json"}))

	host, err := cmd.Flags().GetString(flagHost)
	require.NoError(t, err)
	assert.Equal(t, defaultHost, host)

	port, err := cmd.Flags().GetInt(flagPort)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, port)
	assert.False(t, cmd.Flags().Changed(flagPort))
}
