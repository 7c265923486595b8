package media

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	wavFramesPerPacket = 1024
)

// wavReader serves the PCM chunk located by go-audio/wav as fixed-size packets.
type wavReader struct {
	f         *os.File
	pcm       *io.SectionReader
	track     Track
	frameSize int
	pos       uint64
	buf       []byte
}

func openWAV(f *os.File) (FormatReader, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("wav: invalid file: %v", d.Err())
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: locate pcm: %w", err)
	}
	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := d.PCMLen()
	if start+size > stat.Size() {
		size = stat.Size() - start
	}

	codec := CodecNull
	switch d.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
		codec = CodecPCM
	case wavFormatFloat:
		codec = CodecPCMFloat
	}

	frameSize := int(d.NumChans) * int(d.BitDepth) / 8
	if frameSize <= 0 {
		return nil, fmt.Errorf("wav: invalid frame size")
	}
	if codec == CodecPCM && d.BitDepth != 8 && d.BitDepth != 16 && d.BitDepth != 24 && d.BitDepth != 32 {
		codec = CodecNull
	}
	if codec == CodecPCMFloat && d.BitDepth != 32 && d.BitDepth != 64 {
		codec = CodecNull
	}

	return &wavReader{
		f:   f,
		pcm: io.NewSectionReader(f, start, size),
		track: Track{
			ID: 0,
			Params: CodecParams{
				Codec:           codec,
				SampleRate:      int(d.SampleRate),
				Channels:        int(d.NumChans),
				BitsPerSample:   int(d.BitDepth),
				NFrames:         uint64(size) / uint64(frameSize),
				FramesPerPacket: wavFramesPerPacket,
			},
		},
		frameSize: frameSize,
		buf:       make([]byte, wavFramesPerPacket*frameSize),
	}, nil
}

func (r *wavReader) Tracks() []Track { return []Track{r.track} }

func (r *wavReader) NextPacket() (Packet, error) {
	n, err := r.pcm.ReadAt(r.buf, int64(r.pos)*int64(r.frameSize))
	frames := n / r.frameSize
	if frames == 0 {
		if err == nil || err == io.EOF {
			return Packet{}, io.EOF
		}
		return Packet{}, err
	}
	data := make([]byte, frames*r.frameSize)
	copy(data, r.buf[:len(data)])
	p := Packet{
		TrackID: r.track.ID,
		TS:      r.pos,
		Dur:     uint64(frames),
		Data:    data,
	}
	r.pos += uint64(frames)
	return p, nil
}

func (r *wavReader) Seek(trackID uint32, to time.Duration) (SeekedTo, error) {
	if trackID != r.track.ID {
		return SeekedTo{}, unknownTrack(trackID)
	}
	ts := r.track.TSOf(to)
	if ts > r.track.Params.NFrames {
		ts = r.track.Params.NFrames
	}
	r.pos = ts
	return SeekedTo{TrackID: trackID, RequiredTS: ts, ActualTS: ts}, nil
}

func (r *wavReader) Close() error { return r.f.Close() }
