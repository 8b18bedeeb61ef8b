package audio

import (
	"encoding/binary"
	"math"
)

// downmixInterleaved averages interleaved channels into a new mono slice
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, input)
		return out
	}

	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += input[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// EncodePCM16 appends samples to dst as signed 16-bit little-endian PCM.
// Samples outside [-1, 1] are clipped.
func EncodePCM16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		var i int16
		if v < 0 {
			i = int16(v * 0x8000)
		} else {
			i = int16(v * 0x7FFF)
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(i))
	}
	return dst
}
