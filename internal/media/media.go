package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedFormat = errors.New("media: unsupported format")
	// ErrResetRequired is returned by Seek when the reader had to rewind;
	// decoders must be reset before the next packet.
	ErrResetRequired = errors.New("media: reset required")
)

// DecodeError marks a malformed packet. The stream itself is still usable.
type DecodeError struct {
	Err error
}

func (e DecodeError) Error() string { return "decode error: " + e.Err.Error() }
func (e DecodeError) Unwrap() error { return e.Err }

type CodecType int

const (
	CodecNull CodecType = iota
	CodecPCM
	CodecPCMFloat
	CodecMP3
	CodecFLAC
	CodecVorbis
	CodecOpus
)

func (c CodecType) String() string {
	switch c {
	case CodecPCM:
		return "pcm"
	case CodecPCMFloat:
		return "pcm-float"
	case CodecMP3:
		return "mp3"
	case CodecFLAC:
		return "flac"
	case CodecVorbis:
		return "vorbis"
	case CodecOpus:
		return "opus"
	}
	return "null"
}

type CodecParams struct {
	Codec         CodecType
	SampleRate    int
	Channels      int
	BitsPerSample int
	// NFrames is the stream length in frames, 0 when unknown.
	NFrames         uint64
	FramesPerPacket int
	// Delay is the number of leading frames that are decoded but not presented (Opus pre-skip).
	Delay uint64
}

type Track struct {
	ID     uint32
	Params CodecParams
}

// TimeOf converts a track timestamp to presentation time.
func (t Track) TimeOf(ts uint64) time.Duration {
	if t.Params.SampleRate <= 0 || ts <= t.Params.Delay {
		return 0
	}
	frames := ts - t.Params.Delay
	sec := frames / uint64(t.Params.SampleRate)
	rem := frames % uint64(t.Params.SampleRate)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(t.Params.SampleRate)
}

// TSOf converts a presentation time to a track timestamp.
func (t Track) TSOf(d time.Duration) uint64 {
	if d < 0 {
		d = 0
	}
	rate := uint64(t.Params.SampleRate)
	whole := uint64(d / time.Second)
	frac := uint64(d % time.Second)
	return whole*rate + frac*rate/uint64(time.Second) + t.Params.Delay
}

// Duration is the presented length of the track, 0 when unknown.
func (t Track) Duration() time.Duration {
	if t.Params.NFrames == 0 {
		return 0
	}
	return t.TimeOf(t.Params.NFrames)
}

type Packet struct {
	TrackID uint32
	// TS and Dur are in track frames.
	TS  uint64
	Dur uint64
	// Data holds the encoded payload.
	Data []byte
	// Frames is set instead of Data by readers that decode while demuxing.
	// It is only valid until the next call to NextPacket.
	Frames [][2]float64
}

type SeekedTo struct {
	TrackID    uint32
	RequiredTS uint64
	ActualTS   uint64
}

type FormatReader interface {
	Tracks() []Track
	// NextPacket returns io.EOF at the end of the stream.
	NextPacket() (Packet, error)
	Seek(trackID uint32, to time.Duration) (SeekedTo, error)
	Close() error
}

type Decoder interface {
	// Decode returns a buffer owned by the decoder, valid until the next call.
	Decode(p Packet) (*audio.Float32Buffer, error)
	Reset() error
}

// SelectTrack returns the first track with a playable codec.
func SelectTrack(r FormatReader) (uint32, bool) {
	for _, t := range r.Tracks() {
		if t.Params.Codec != CodecNull {
			return t.ID, true
		}
	}
	return 0, false
}

// FindTrack looks a track up by id.
func FindTrack(r FormatReader, id uint32) (Track, bool) {
	for _, t := range r.Tracks() {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}

// SeekTimestamp positions the reader at seconds and returns the timestamp below which
// decoded audio must be discarded, together with the track to play.
// A failed seek never fails playback: the timestamp falls back to 0.
func SeekTimestamp(r FormatReader, trackID uint32, seconds int64, log *zap.Logger) (uint64, uint32) {
	if seconds <= 0 {
		return 0, trackID
	}
	seeked, err := r.Seek(trackID, time.Duration(seconds)*time.Second)
	switch {
	case err == nil:
		return seeked.RequiredTS, trackID
	case errors.Is(err, ErrResetRequired):
		if id, ok := SelectTrack(r); ok {
			trackID = id
		}
		return 0, trackID
	default:
		if log != nil {
			log.Warn("seek error", zap.Int64("seconds", seconds), zap.Error(err))
		}
		return 0, trackID
	}
}

func unknownTrack(id uint32) error {
	return fmt.Errorf("media: unknown track %d", id)
}
