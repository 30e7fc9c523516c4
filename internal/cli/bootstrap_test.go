package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-model/internal/cli"
	"github.com/book-expert/voice-model/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapUsesSettingsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	settings := filepath.Join(dir, "voice.toml")

	content := "[paths]\nlogs_dir = \"" + filepath.ToSlash(logsDir) + "\"\n\n[server]\nport = 9000\n"
	require.NoError(t, os.WriteFile(settings, []byte(content), 0o600))

	runtime, err := cli.Bootstrap(settings, "cli-test")
	require.NoError(t, err)

	defer runtime.Close()

	assert.Equal(t, 9000, runtime.Settings.Server.Port)
	assert.Equal(t, "custom_voice", runtime.Settings.Dataset.SpeakerName)

	runtime.Log.Info("hello")
	assert.DirExists(t, logsDir)
}

func TestBootstrapRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	settings := filepath.Join(t.TempDir(), "voice.toml")
	require.NoError(t, os.WriteFile(settings, []byte("[audio]\nsample_rate = -1\n"), 0o600))

	_, err := cli.Bootstrap(settings, "cli-test")
	require.ErrorIs(t, err, config.ErrInvalidSettings)
}
