package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/go-audio/audio"

	"podplayer/pkg/audioengine"
)

var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

// queue is the streamer handed to the speaker. Underruns play silence.
type queue struct {
	mu       sync.Mutex
	space    *sync.Cond
	frames   [][2]float64
	capacity int
	closed   bool
}

func newQueue(capacity int) *queue {
	q := &queue{capacity: capacity}
	q.space = sync.NewCond(&q.mu)
	return q
}

func (q *queue) Stream(samples [][2]float64) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, false
	}
	n := copy(samples, q.frames)
	q.frames = q.frames[n:]
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	q.space.Broadcast()
	return len(samples), true
}

func (q *queue) Err() error { return nil }

func (q *queue) push(frames [][2]float64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) >= q.capacity && !q.closed {
		q.space.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.frames = append(q.frames, frames...)
	return nil
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.mu.Unlock()
	q.space.Broadcast()
}

type speakerSink struct {
	q      *queue
	frames [][2]float64
}

func openSpeaker(spec Spec, capacityFrames int, buffer time.Duration) (Sink, error) {
	sr := beep.SampleRate(spec.SampleRate)

	speakerMu.Lock()
	if speakerRate != sr {
		if err := speaker.Init(sr, sr.N(buffer)); err != nil {
			speakerMu.Unlock()
			return nil, fmt.Errorf("speaker: %w", err)
		}
		speakerRate = sr
	}
	speakerMu.Unlock()

	q := newQueue(bufferFrames(spec.SampleRate, buffer, capacityFrames) * 2)
	speaker.Clear()
	speaker.Play(q)
	return &speakerSink{q: q}, nil
}

func (s *speakerSink) Write(buf *audio.Float32Buffer) error {
	s.frames = audioengine.ToStereo(s.frames, buf.Data, buf.Format.NumChannels)
	return s.q.push(s.frames)
}

func (s *speakerSink) Close() error {
	s.q.close()
	speaker.Clear()
	return nil
}
