package output

import (
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
)

// Null discards audio. With realtime set, Write sleeps for the buffer's duration.
type Null struct {
	spec     Spec
	realtime bool
	frames   atomic.Uint64
	closed   atomic.Bool
}

func NewNull(spec Spec, realtime bool) *Null {
	return &Null{spec: spec, realtime: realtime}
}

func (n *Null) Write(buf *audio.Float32Buffer) error {
	if n.closed.Load() {
		return ErrClosed
	}
	ch := buf.Format.NumChannels
	if ch <= 0 {
		ch = 1
	}
	frames := len(buf.Data) / ch
	n.frames.Add(uint64(frames))
	if n.realtime && n.spec.SampleRate > 0 {
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(n.spec.SampleRate))
	}
	return nil
}

// Frames is the number of frames written so far.
func (n *Null) Frames() uint64 { return n.frames.Load() }

func (n *Null) Close() error {
	n.closed.Store(true)
	return nil
}
