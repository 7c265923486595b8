package audioengine

import "math"

// Waveform reduces a whole stream to a fixed number of RMS points scaled to
// 0..255, fed one decoded buffer at a time.
type Waveform struct {
	perPoint int
	points   []byte
	sum      float64
	count    int
}

// NewWaveform sizes the buckets from the stream length in frames.
// An unknown length (0) yields one point per second at 48 kHz.
func NewWaveform(totalFrames uint64, points int) *Waveform {
	if points <= 0 {
		points = 1000
	}
	per := 48000
	if totalFrames > 0 {
		per = int(totalFrames / uint64(points))
	}
	if per < 1 {
		per = 1
	}
	return &Waveform{perPoint: per, points: make([]byte, 0, points)}
}

// Add folds interleaved samples in; channels are mixed down per frame.
func (w *Waveform) Add(samples []float32, channels int) {
	if channels <= 0 {
		channels = 1
	}
	for i := 0; i+channels <= len(samples); i += channels {
		var mix float64
		for c := 0; c < channels; c++ {
			mix += float64(samples[i+c])
		}
		mix /= float64(channels)
		w.sum += mix * mix
		w.count++
		if w.count == w.perPoint {
			w.flush()
		}
	}
}

func (w *Waveform) flush() {
	if w.count == 0 {
		return
	}
	rms := math.Sqrt(w.sum / float64(w.count))
	// x5 so speech levels fill the range
	w.points = append(w.points, uint8(math.Min(rms*255*5, 255)))
	w.sum, w.count = 0, 0
}

// Points returns the buckets so far, including a partial last one.
func (w *Waveform) Points() []byte {
	w.flush()
	return w.points
}
