package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// WAVE format tag for IEEE float samples, which go-audio/wav cannot decode.
const wavFormatIEEEFloat = 3

// mp3 decoder output is always 16-bit little-endian stereo.
const mp3Channels = 2

var (
	// ErrEmptyAudio is returned when a file decodes to zero samples.
	ErrEmptyAudio = errors.New("decoded audio is empty")
	// ErrInvalidWAV is returned when a .wav file has no valid RIFF/WAVE header.
	ErrInvalidWAV = errors.New("invalid wav file")
	// errNeedsFFmpeg marks inputs the native decoders cannot handle.
	errNeedsFFmpeg = errors.New("container requires ffmpeg")
)

// Clip is a decoded waveform with interleaved float samples in [-1.0, 1.0].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Mono returns the clip with its channels averaged into one.
func (c *Clip) Mono() *Clip {
	if c.Channels <= 1 {
		return c
	}

	return &Clip{
		Samples:    downmix(c.Samples, c.Channels),
		SampleRate: c.SampleRate,
		Channels:   1,
	}
}

// Frames returns the number of sample frames in the clip.
func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}

	return len(c.Samples) / c.Channels
}

// Decoder turns audio files into Clips. WAV and MP3 are decoded natively; every
// other container is piped through ffmpeg.
type Decoder struct {
	ffmpeg string
}

// NewDecoder creates a decoder that uses the given ffmpeg binary for fallback decoding.
func NewDecoder(ffmpeg string) *Decoder {
	return &Decoder{ffmpeg: ffmpeg}
}

// Decode reads the file at path. targetRate is only used by the ffmpeg path, which
// resamples while decoding.
func (d *Decoder) Decode(ctx context.Context, path string, targetRate int) (*Clip, error) {
	var (
		clip *Clip
		err  error
	)

	switch ContainerOf(path) {
	case ContainerWAV:
		clip, err = DecodeWAVFile(path)
	case ContainerMP3:
		clip, err = decodeMP3File(path)
	default:
		err = errNeedsFFmpeg
	}

	if errors.Is(err, errNeedsFFmpeg) {
		clip, err = d.decodeFFmpeg(ctx, path, targetRate)
	}

	if err != nil {
		return nil, err
	}

	if len(clip.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAudio, path)
	}

	return clip, nil
}

// DecodeWAVFile decodes an integer PCM WAV file.
func DecodeWAVFile(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	return DecodeWAV(file)
}

// DecodeWAV decodes integer PCM WAV data from r.
func DecodeWAV(r io.ReadSeeker) (*Clip, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	if decoder.WavAudioFormat == wavFormatIEEEFloat {
		return nil, errNeedsFFmpeg
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav pcm data: %w", err)
	}

	return &Clip{
		Samples:    intToFloat32(buf.Data, int(decoder.BitDepth)),
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}, nil
}

func decodeMP3File(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3 %s: %w", path, err)
	}

	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to read mp3 pcm data: %w", err)
	}

	return &Clip{
		Samples:    Int16ToFloat32(BytesToInt16(pcmData)),
		SampleRate: decoder.SampleRate(),
		Channels:   mp3Channels,
	}, nil
}

// decodeFFmpeg asks ffmpeg for mono signed 16-bit PCM at targetRate on stdout.
func (d *Decoder) decodeFFmpeg(ctx context.Context, path string, targetRate int) (*Clip, error) {
	args := []string{
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(targetRate),
		"-",
	}

	// #nosec G204 -- ffmpeg path comes from operator settings
	cmd := exec.CommandContext(ctx, d.ffmpeg, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed to decode %s: %w - output: %s", path, err, stderr.String())
	}

	return &Clip{
		Samples:    Int16ToFloat32(BytesToInt16(stdout.Bytes())),
		SampleRate: targetRate,
		Channels:   1,
	}, nil
}
