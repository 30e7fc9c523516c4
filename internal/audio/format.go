// Package audio provides waveform decoding, resampling and WAV encoding for the
// dataset preparer and the inference server.
package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Defaults for the normalized training waveform.
const (
	DefaultSampleRate = 22050
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// 8-bit WAV input is unsigned and decoded separately.
const bitDepth8 = 8

const maxSampleRate = 192000

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtBitDepth        = "%w: output bit depth must be %d, got %d"
	errFmtChannels        = "%w: output must have %d channel, got %d"
)

// ErrInvalidFormat is returned when a Format is outside the supported range.
var ErrInvalidFormat = errors.New("invalid audio format")

// Container identifies an input file type by extension.
type Container string

// Known containers. Anything else is handed to ffmpeg.
const (
	ContainerWAV  Container = "wav"
	ContainerMP3  Container = "mp3"
	ContainerFLAC Container = "flac"
	ContainerOGG  Container = "ogg"
	ContainerM4A  Container = "m4a"
	ContainerAAC  Container = "aac"
)

// ContainerOf returns the container implied by a file's extension.
func ContainerOf(path string) Container {
	return Container(strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")))
}

// Format describes the PCM layout the converter writes. Only the sample rate is
// free; output is always 16-bit mono.
type Format struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bitDepth"`
}

// NewDefaultFormat returns the mono 16-bit 22050 Hz layout the toolkit trains on.
func NewDefaultFormat() Format {
	return Format{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// Validate checks the format is within supported bounds.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, maxSampleRate)
	}

	if f.BitDepth != DefaultBitDepth {
		return fmt.Errorf(errFmtBitDepth, ErrInvalidFormat, DefaultBitDepth, f.BitDepth)
	}

	if f.Channels != DefaultChannels {
		return fmt.Errorf(errFmtChannels, ErrInvalidFormat, DefaultChannels, f.Channels)
	}

	return nil
}
