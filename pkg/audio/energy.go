package audio

import (
	"fmt"
	"math"
)

// fullScale is the maximum magnitude of a 16-bit signed sample. Dividing the
// RMS by it normalizes energy into [0, 1].
const fullScale = 32768.0

// Energy computes the normalized root-mean-square loudness of a PCM frame.
// Samples are widened to float64 before squaring so the sum cannot overflow.
// Returns [ErrInvalidFrame] if the data is not a whole number of int16 samples.
func Energy(f Frame) (float64, error) {
	if len(f.Data)%2 != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a whole number of int16 samples", ErrInvalidFrame, len(f.Data))
	}
	if len(f.Data) == 0 {
		return 0, nil
	}

	var sum float64
	for i := 0; i+1 < len(f.Data); i += 2 {
		s := float64(int16(f.Data[i]) | int16(f.Data[i+1])<<8)
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(f.Samples()))
	return rms / fullScale, nil
}
