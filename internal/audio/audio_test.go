package audio_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-model/internal/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n, sampleRate int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	return out
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// writeStereoWAV writes one second of a 440 Hz tone as 16-bit stereo.
func writeStereoWAV(t *testing.T, path string, sampleRate int) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	defer file.Close()

	data := make([]int, 0, sampleRate*2)
	for i := range sampleRate {
		v := int(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)) * 16000)
		data = append(data, v, v)
	}

	encoder := wav.NewEncoder(file, sampleRate, 16, 2, 1)
	require.NoError(t, encoder.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, encoder.Close())
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	t.Parallel()

	out := audio.Float32ToInt16([]float32{0, 1, -1, 1.5, -2, 0.5})
	assert.Equal(t, []int16{0, 32767, -32767, 32767, -32767, 16383}, out)
}

func TestDecodersShareOneScale(t *testing.T) {
	t.Parallel()

	pcm := []int16{0, 16384, -32768, 32767}
	path := filepath.Join(t.TempDir(), "scale.wav")

	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(file, pcm, 22050))
	require.NoError(t, file.Close())

	clip, err := audio.DecodeWAVFile(path)
	require.NoError(t, err)

	// The WAV decoder and the raw PCM path used for MP3 and ffmpeg agree exactly.
	raw := audio.Int16ToFloat32(pcm)
	assert.Equal(t, raw, clip.Samples)
	assert.Equal(t, []float32{0, 0.5, -1, 32767.0 / 32768.0}, raw)
}

func TestBytesToInt16DropsTrailingByte(t *testing.T) {
	t.Parallel()

	out := audio.BytesToInt16([]byte{0x01, 0x00, 0xff, 0xff, 0x7f})
	assert.Equal(t, []int16{1, -1}, out)
}

func TestWAVBytesRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []float32{0, 0.25, -0.25, 0.5, -0.5}

	data, err := audio.WAVBytes(samples, 22050)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	clip, err := audio.DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 22050, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	require.Len(t, clip.Samples, len(samples))
	assert.InDelta(t, 0.25, clip.Samples[1], 0.001)
	assert.InDelta(t, -0.5, clip.Samples[4], 0.001)
}

func TestWAVBytesMatchesFileOutput(t *testing.T) {
	t.Parallel()

	samples := tone(1000, 22050, 0.3)

	data, err := audio.WAVBytes(samples, 22050)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, audio.WriteWAVFile(path, samples, 22050))

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, onDisk, data)
	assert.Len(t, data, 44+2*len(samples))
}

func TestClipMonoAveragesChannels(t *testing.T) {
	t.Parallel()

	clip := &audio.Clip{Samples: []float32{1, 0, 0.5, 0.5}, SampleRate: 8000, Channels: 2}
	mono := clip.Mono()

	assert.Equal(t, 1, mono.Channels)
	assert.Equal(t, []float32{0.5, 0.5}, mono.Samples)
	assert.Equal(t, 2, clip.Frames())
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}

	out, err := audio.Resample(in, 22050, 22050)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResampleKeepsDuration(t *testing.T) {
	t.Parallel()

	for _, n := range []int{100, 1000, 44100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()

			in := tone(n, 44100, 0.5)

			out, err := audio.Resample(in, 44100, 22050)
			require.NoError(t, err)
			assert.Len(t, out, n/2)
		})
	}
}

func TestResampleKeepsSignal(t *testing.T) {
	t.Parallel()

	out, err := audio.Resample(tone(44100, 44100, 0.5), 44100, 22050)
	require.NoError(t, err)
	require.Len(t, out, 22050)

	// A 0.5 amplitude sine has an RMS of 0.354; the flushed tail must carry signal too.
	assert.InDelta(t, 0.354, rms(out), 0.02)
	assert.InDelta(t, 0.354, rms(out[len(out)-2000:len(out)-200]), 0.03)

	up, err := audio.Resample(tone(1600, 16000, 0.5), 16000, 22050)
	require.NoError(t, err)
	assert.Len(t, up, 2205)
}

func TestResampleRejectsInvalidRates(t *testing.T) {
	t.Parallel()

	_, err := audio.Resample([]float32{0}, 0, 22050)
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestConverterNormalizesWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	dst := filepath.Join(dir, "out.wav")
	writeStereoWAV(t, src, 44100)

	converter, err := audio.NewConverter(audio.NewDefaultFormat(), "ffmpeg")
	require.NoError(t, err)

	require.NoError(t, converter.Convert(context.Background(), src, dst))

	clip, err := audio.DecodeWAVFile(dst)
	require.NoError(t, err)
	assert.Equal(t, audio.DefaultSampleRate, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)

	// One second in, one second out.
	assert.Equal(t, 22050, clip.Frames())
	assert.InDelta(t, 16000.0/32768.0*0.707, rms(clip.Samples), 0.02)
}

// mp3Frames decodes the fixture directly to count its sample frames.
func mp3Frames(t *testing.T, path string) (int, int) {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)

	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	require.NoError(t, err)

	pcm, err := io.ReadAll(decoder)
	require.NoError(t, err)

	// Always 16-bit stereo.
	return len(pcm) / 4, decoder.SampleRate()
}

func TestConverterNormalizesMP3(t *testing.T) {
	t.Parallel()

	src := filepath.Join("testdata", "speech.mp3")
	frames, rate := mp3Frames(t, src)
	require.Equal(t, 22050, rate)
	require.InDelta(t, 40*576, frames, 576)

	tests := []struct {
		name   string
		format audio.Format
		want   int
	}{
		{name: "same rate", format: audio.NewDefaultFormat(), want: frames},
		{
			name:   "downsampled",
			format: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
			want:   int(math.Round(float64(frames) * 16000 / 22050)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			converter, err := audio.NewConverter(tt.format, filepath.Join(t.TempDir(), "no-ffmpeg"))
			require.NoError(t, err)

			dst := filepath.Join(t.TempDir(), "speech.wav")
			require.NoError(t, converter.Convert(context.Background(), src, dst))

			clip, err := audio.DecodeWAVFile(dst)
			require.NoError(t, err)
			assert.Equal(t, tt.format.SampleRate, clip.SampleRate)
			assert.Equal(t, 1, clip.Channels)
			assert.Equal(t, tt.want, clip.Frames())
		})
	}
}

func TestConverterRejectsCorruptWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "broken.wav")
	require.NoError(t, os.WriteFile(src, []byte("not a wave file at all"), 0o600))

	converter, err := audio.NewConverter(audio.NewDefaultFormat(), "ffmpeg")
	require.NoError(t, err)

	err = converter.Convert(context.Background(), src, filepath.Join(dir, "out.wav"))
	require.ErrorIs(t, err, audio.ErrInvalidWAV)
}

func TestDecoderFallsBackToFFmpeg(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "clip.flac")
	require.NoError(t, os.WriteFile(src, []byte("fLaC"), 0o600))

	decoder := audio.NewDecoder(filepath.Join(dir, "no-such-ffmpeg"))

	_, err := decoder.Decode(context.Background(), src, 22050)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg")
}

func TestFormatValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.NewDefaultFormat().Validate())

	require.NoError(t, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}.Validate())

	invalid := []audio.Format{
		{SampleRate: 0, Channels: 1, BitDepth: 16},
		{SampleRate: 22050, Channels: 0, BitDepth: 16},
		{SampleRate: 22050, Channels: 2, BitDepth: 16},
		{SampleRate: 22050, Channels: 1, BitDepth: 12},
		{SampleRate: 22050, Channels: 1, BitDepth: 24},
	}
	for _, f := range invalid {
		require.ErrorIs(t, f.Validate(), audio.ErrInvalidFormat)
	}

	_, err := audio.NewConverter(invalid[0], "ffmpeg")
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestContainerOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, audio.ContainerWAV, audio.ContainerOf("a/b/Take1.WAV"))
	assert.Equal(t, audio.ContainerMP3, audio.ContainerOf("voice.mp3"))
	assert.Equal(t, audio.Container(""), audio.ContainerOf("noext"))
}
