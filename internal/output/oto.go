package output

import (
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/hajimehoshi/oto"

	"podplayer/pkg/audioengine"
	"podplayer/pkg/audiospec"
)

// otoSink owns one oto context; oto allows a single live context per process.
type otoSink struct {
	ctx    *oto.Context
	player *oto.Player
	frames [][2]float64
	flat   []float32
	bytes  []byte
}

func openOto(spec Spec, capacityFrames int, buffer time.Duration) (Sink, error) {
	frames := bufferFrames(spec.SampleRate, buffer, capacityFrames)
	ctx, err := oto.NewContext(spec.SampleRate, audiospec.OutputChannels, 2, frames*audiospec.OutputChannels*2)
	if err != nil {
		return nil, fmt.Errorf("oto: %w", err)
	}
	return &otoSink{ctx: ctx, player: ctx.NewPlayer()}, nil
}

func (s *otoSink) Write(buf *audio.Float32Buffer) error {
	if s.player == nil {
		return ErrClosed
	}
	s.frames = audioengine.ToStereo(s.frames, buf.Data, buf.Format.NumChannels)
	s.flat = s.flat[:0]
	for _, f := range s.frames {
		s.flat = append(s.flat, float32(f[0]), float32(f[1]))
	}
	if need := len(s.flat) * 2; cap(s.bytes) < need {
		s.bytes = make([]byte, need)
	}
	n := audioengine.PutInt16LE(s.bytes[:cap(s.bytes)], s.flat)
	if _, err := s.player.Write(s.bytes[:n]); err != nil {
		return fmt.Errorf("oto write: %w", err)
	}
	return nil
}

func (s *otoSink) Close() error {
	if s.player == nil {
		return nil
	}
	perr := s.player.Close()
	cerr := s.ctx.Close()
	s.player = nil
	if perr != nil {
		return perr
	}
	return cerr
}
