package audio

import "math"

// pcm16FullScale is 2^15. Every decode path divides 16-bit PCM by it so WAV, MP3
// and ffmpeg input land on the same float scale.
const pcm16FullScale = 1 << 15

// Float32ToInt16 quantizes [-1.0, 1.0] samples to 16-bit PCM, clamping overshoot.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))

	for i, s := range in {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}

		out[i] = int16(s * math.MaxInt16)
	}

	return out
}

// Int16ToFloat32 converts 16-bit PCM to [-1.0, 1.0).
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / pcm16FullScale
	}

	return out
}

// BytesToInt16 converts little-endian bytes to int16 samples. A trailing odd byte is dropped.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)

	for i := range n {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}

	return out
}

// intToFloat32 normalizes integer PCM of the given bit depth. 8-bit WAV is unsigned.
func intToFloat32(in []int, bitDepth int) []float32 {
	out := make([]float32, len(in))

	if bitDepth == bitDepth8 {
		for i, s := range in {
			out[i] = float32(s-128) / 128
		}

		return out
	}

	scale := float32(int64(1) << (bitDepth - 1))
	for i, s := range in {
		out[i] = float32(s) / scale
	}

	return out
}

// downmix averages interleaved channels into a single channel.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	out := make([]float32, frames)

	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}

		out[i] = sum / float32(channels)
	}

	return out
}
