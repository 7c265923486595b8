package audioengine

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Level returns the RMS and peak amplitude of an interleaved buffer.
func Level(samples []float32) (rms, peak float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples))), peak
}

// Spectrum mixes the buffer down to mono, runs a Hann-windowed FFT over the first
// size frames and groups the magnitudes into log-spaced bands in [0,1].
func Spectrum(samples []float32, channels, size, bands int) []float64 {
	out := make([]float64, bands)
	if channels <= 0 || size < 4 || bands <= 0 || len(samples) < channels {
		return out
	}

	// Mixdown mono, sisanya zero padding
	window := make([]float64, size)
	var windowSum float64
	for i := 0; i < size; i++ {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
		windowSum += w
		base := i * channels
		if base+channels > len(samples) {
			continue
		}
		var mono float64
		for c := 0; c < channels; c++ {
			mono += float64(samples[base+c])
		}
		window[i] = w * mono / float64(channels)
	}

	coeffs := fft.FFTReal(window)
	half := size / 2

	// Band edges grow exponentially from bin 1 to the Nyquist bin
	lo := 1
	for b := 0; b < bands; b++ {
		hi := int(math.Round(math.Pow(float64(half), float64(b+1)/float64(bands))))
		if hi <= lo {
			hi = lo + 1
		}
		if hi > half {
			hi = half
		}
		var peak float64
		for k := lo; k < hi; k++ {
			mag := 2 * cmplx.Abs(coeffs[k]) / windowSum
			if mag > peak {
				peak = mag
			}
		}
		out[b] = math.Min(peak, 1)
		lo = hi
	}
	return out
}
