package audio

import (
	"context"
	"fmt"
)

// Converter normalizes arbitrary audio files into the target mono WAV format.
type Converter struct {
	decoder *Decoder
	format  Format
}

// NewConverter creates a converter producing files in the given format. Only 16-bit
// mono output is written; the format's rate decides resampling.
func NewConverter(format Format, ffmpeg string) (*Converter, error) {
	err := format.Validate()
	if err != nil {
		return nil, err
	}

	return &Converter{
		decoder: NewDecoder(ffmpeg),
		format:  format,
	}, nil
}

// Format returns the output format.
func (c *Converter) Format() Format {
	return c.format
}

// Convert decodes src and writes dst as mono 16-bit PCM at the target rate. WAV
// inputs go through the same resample pass as every other container.
func (c *Converter) Convert(ctx context.Context, src, dst string) error {
	clip, err := c.decoder.Decode(ctx, src, c.format.SampleRate)
	if err != nil {
		return err
	}

	mono := clip.Mono()

	samples, err := Resample(mono.Samples, mono.SampleRate, c.format.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to resample %s: %w", src, err)
	}

	return WriteWAVFile(dst, samples, c.format.SampleRate)
}
