package output

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"go.uber.org/zap"

	"podplayer/pkg/audiospec"
)

var (
	ErrUnknownBackend = errors.New("output: unknown backend")
	ErrClosed         = errors.New("output: sink closed")
)

// Sink plays interleaved float buffers. Write blocks until the device has room.
type Sink interface {
	Write(buf *audio.Float32Buffer) error
	Close() error
}

type Spec struct {
	SampleRate int
	Channels   int
}

// Opener opens a sink for the first decoded buffer of a session.
type Opener func(spec Spec, capacityFrames int) (Sink, error)

const (
	BackendOto     = "oto"
	BackendSpeaker = "speaker"
	BackendNull    = "null"
)

func NewOpener(backend string, bufferMs int, log *zap.Logger) (Opener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if bufferMs <= 0 {
		bufferMs = audiospec.DefaultOutputBufferMs
	}
	buffer := time.Duration(bufferMs) * time.Millisecond

	var open Opener
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendOto:
		open = func(spec Spec, capacityFrames int) (Sink, error) {
			return openOto(spec, capacityFrames, buffer)
		}
	case BackendSpeaker:
		open = func(spec Spec, capacityFrames int) (Sink, error) {
			return openSpeaker(spec, capacityFrames, buffer)
		}
	case BackendNull:
		open = func(spec Spec, _ int) (Sink, error) {
			return NewNull(spec, true), nil
		}
	default:
		return nil, fmt.Errorf("%q: %w", backend, ErrUnknownBackend)
	}

	return func(spec Spec, capacityFrames int) (Sink, error) {
		if spec.SampleRate <= 0 || spec.Channels <= 0 {
			return nil, fmt.Errorf("output: invalid spec %d Hz / %d ch", spec.SampleRate, spec.Channels)
		}
		s, err := open(spec, capacityFrames)
		if err != nil {
			return nil, err
		}
		log.Debug("output opened",
			zap.String("backend", backend),
			zap.Int("rate", spec.SampleRate),
			zap.Int("channels", spec.Channels),
			zap.Int("capacity", capacityFrames))
		return s, nil
	}, nil
}

func bufferFrames(rate int, d time.Duration, capacityFrames int) int {
	n := int(int64(rate) * int64(d) / int64(time.Second))
	if capacityFrames > n {
		n = capacityFrames
	}
	return n
}
