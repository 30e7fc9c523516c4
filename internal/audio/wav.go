package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// WAVE format tag for linear PCM.
const wavFormatPCM = 1

// EncodeWAV writes 16-bit mono PCM samples as a RIFF/WAVE container.
func EncodeWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	encoder := wav.NewEncoder(w, sampleRate, DefaultBitDepth, 1, wavFormatPCM)

	err := encoder.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: DefaultBitDepth,
	})
	if err != nil {
		return fmt.Errorf("failed to encode wav samples: %w", err)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to finalize wav header: %w", closeErr)
	}

	return nil
}

// WAVBytes quantizes float samples and returns a complete in-memory WAV file.
func WAVBytes(samples []float32, sampleRate int) ([]byte, error) {
	buf := &writerseeker.WriterSeeker{}

	err := EncodeWAV(buf, Float32ToInt16(samples), sampleRate)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(buf.Reader())
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded wav: %w", err)
	}

	return data, nil
}

// WriteWAVFile quantizes float samples and writes them to path.
func WriteWAVFile(path string, samples []float32, sampleRate int) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, closeErr)
		}
	}()

	return EncodeWAV(file, Float32ToInt16(samples), sampleRate)
}
