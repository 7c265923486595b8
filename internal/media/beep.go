package media

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
)

const beepFramesPerPacket = 1152

// fileSource keeps the file open when beep closes its stream; beepReader owns it.
type fileSource struct {
	*os.File
}

func (fileSource) Close() error { return nil }

// beepReader adapts the beep decoders, which demux and decode in one step.
// Packets carry decoded stereo frames.
type beepReader struct {
	f      *os.File
	s      beep.StreamSeekCloser
	track  Track
	frames [][2]float64
}

func openBeep(f *os.File, codec CodecType) (FormatReader, error) {
	src := fileSource{f}
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch codec {
	case CodecMP3:
		s, format, err = mp3.Decode(src)
	case CodecFLAC:
		s, format, err = flac.Decode(src)
	case CodecVorbis:
		s, format, err = vorbis.Decode(src)
	default:
		return nil, fmt.Errorf("beep: %s: %w", codec, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", codec, err)
	}

	nframes := 0
	if n := s.Len(); n > 0 {
		nframes = n
	}
	return &beepReader{
		f: f,
		s: s,
		track: Track{
			ID: 0,
			Params: CodecParams{
				Codec:           codec,
				SampleRate:      int(format.SampleRate),
				Channels:        format.NumChannels,
				BitsPerSample:   format.Precision * 8,
				NFrames:         uint64(nframes),
				FramesPerPacket: beepFramesPerPacket,
			},
		},
		frames: make([][2]float64, beepFramesPerPacket),
	}, nil
}

func (r *beepReader) Tracks() []Track { return []Track{r.track} }

func (r *beepReader) NextPacket() (Packet, error) {
	pos := r.s.Position()
	n, ok := r.s.Stream(r.frames)
	if n == 0 || !ok {
		if err := r.s.Err(); err != nil {
			return Packet{}, err
		}
		if n == 0 {
			return Packet{}, io.EOF
		}
	}
	return Packet{
		TrackID: r.track.ID,
		TS:      uint64(pos),
		Dur:     uint64(n),
		Frames:  r.frames[:n],
	}, nil
}

func (r *beepReader) Seek(trackID uint32, to time.Duration) (SeekedTo, error) {
	if trackID != r.track.ID {
		return SeekedTo{}, unknownTrack(trackID)
	}
	ts := r.track.TSOf(to)
	if n := r.s.Len(); n > 0 && ts > uint64(n) {
		ts = uint64(n)
	}
	if err := r.s.Seek(int(ts)); err != nil {
		return SeekedTo{}, err
	}
	return SeekedTo{TrackID: trackID, RequiredTS: ts, ActualTS: ts}, nil
}

func (r *beepReader) Close() error {
	err := r.s.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
