package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/book-expert/voice-model/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagDefaults(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	audioDir, err := cmd.Flags().GetString(flagAudioDir)
	require.NoError(t, err)
	assert.Equal(t, "source_audio", audioDir)

	outputDir, err := cmd.Flags().GetString(flagOutputDir)
	require.NoError(t, err)
	assert.Equal(t, "data", outputDir)
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	printReport(&out, &dataset.Report{
		Converted:    3,
		Failed:       []dataset.ConversionError{{Path: "broken.mp3", Err: errors.New("bad header")}},
		Rows:         3,
		MetadataPath: "data/metadata.csv",
	}, "data")

	text := out.String()
	assert.Contains(t, text, "3 files converted to WAV")
	assert.Contains(t, text, "1 files could not be converted")
	assert.Contains(t, text, "Metadata for 3 audio files saved to data/metadata.csv")
	assert.Contains(t, text, "train --data_dir data")

	out.Reset()
	printReport(&out, &dataset.Report{MetadataOnly: true, MetadataPath: "data/metadata.csv"}, "data")
	assert.Contains(t, out.String(), "Source directory not found")
	assert.NotContains(t, out.String(), "converted")
}
