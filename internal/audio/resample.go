package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from one rate to another. Equal rates return the
// input unchanged. The result always holds round(len(samples) * toRate / fromRate)
// samples, so clip duration survives the conversion.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate == toRate {
		return samples, nil
	}

	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: cannot resample %d Hz to %d Hz", ErrInvalidFormat, fromRate, toRate)
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := resampler.ProcessFloat32(samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	// The filter holds back its latency worth of samples until flushed.
	tail, err := resampler.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}

	for _, s := range tail {
		out = append(out, float32(s))
	}

	return fitLength(out, resampledLength(len(samples), fromRate, toRate)), nil
}

func resampledLength(n, fromRate, toRate int) int {
	return int(math.Round(float64(n) * float64(toRate) / float64(fromRate)))
}

// fitLength trims flush padding or zero-fills a short tail.
func fitLength(samples []float32, want int) []float32 {
	if len(samples) >= want {
		return samples[:want]
	}

	return append(samples, make([]float32, want-len(samples))...)
}
