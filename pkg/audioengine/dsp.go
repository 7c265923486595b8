package audioengine

import (
	"encoding/binary"
	"math"
)

// VolumeToGain maps a linear UI volume (0..1) onto an exponential gain curve.
func VolumeToGain(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return (math.Exp(v) - 1) / (math.E - 1)
}

// ApplyGain scales interleaved samples in place.
func ApplyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// PutInt16LE writes samples as little-endian int16 into dst, clipping at full scale.
// It returns the number of bytes written.
func PutInt16LE(dst []byte, samples []float32) int {
	n := 0
	for _, s := range samples {
		if n+2 > len(dst) {
			break
		}
		val := float64(s) * 32767
		if val > 32767 {
			val = 32767
		} else if val < -32768 {
			val = -32768
		}
		binary.LittleEndian.PutUint16(dst[n:], uint16(int16(val)))
		n += 2
	}
	return n
}

// ToStereo folds an interleaved buffer with the given channel count onto two channels.
// Mono is duplicated, anything wider keeps its first two channels.
func ToStereo(dst [][2]float64, samples []float32, channels int) [][2]float64 {
	dst = dst[:0]
	if channels <= 0 {
		return dst
	}
	for i := 0; i+channels <= len(samples); i += channels {
		l := float64(samples[i])
		r := l
		if channels > 1 {
			r = float64(samples[i+1])
		}
		dst = append(dst, [2]float64{l, r})
	}
	return dst
}
