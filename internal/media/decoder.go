package media

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-audio/audio"

	"podplayer/pkg/audioengine"
	"podplayer/pkg/audiospec"
)

// NewDecoder builds the decoder for a track's codec.
func NewDecoder(track Track) (Decoder, error) {
	p := track.Params
	switch p.Codec {
	case CodecPCM, CodecPCMFloat:
		if p.Channels <= 0 || p.BitsPerSample%8 != 0 || p.BitsPerSample == 0 {
			return nil, fmt.Errorf("pcm: invalid layout %d ch / %d bit", p.Channels, p.BitsPerSample)
		}
		return &pcmDecoder{
			float:     p.Codec == CodecPCMFloat,
			bits:      p.BitsPerSample,
			frameSize: p.Channels * p.BitsPerSample / 8,
			buf:       newBuffer(p.Channels, p.SampleRate),
		}, nil
	case CodecOpus:
		sd, err := audioengine.NewStreamDecoder(audiospec.OpusSampleRate, p.Channels)
		if err != nil {
			return nil, fmt.Errorf("opus: %w", err)
		}
		return &opusDecoder{
			sd:    sd,
			pcm:   make([]float32, audiospec.OpusMaxFrameSize*p.Channels),
			delay: p.Delay,
			skip:  p.Delay,
			buf:   newBuffer(p.Channels, audiospec.OpusSampleRate),
		}, nil
	case CodecMP3, CodecFLAC, CodecVorbis:
		return &framesDecoder{buf: newBuffer(audiospec.OutputChannels, p.SampleRate)}, nil
	}
	return nil, fmt.Errorf("%s: %w", p.Codec, ErrUnsupportedFormat)
}

func newBuffer(channels, rate int) *audio.Float32Buffer {
	return &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: rate},
	}
}

// ====================================================
// PCM
// ====================================================

type pcmDecoder struct {
	float     bool
	bits      int
	frameSize int
	buf       *audio.Float32Buffer
}

func (d *pcmDecoder) Decode(p Packet) (*audio.Float32Buffer, error) {
	if len(p.Data)%d.frameSize != 0 {
		return nil, DecodeError{Err: fmt.Errorf("pcm: %d bytes is not a whole number of %d-byte frames", len(p.Data), d.frameSize)}
	}
	width := d.bits / 8
	n := len(p.Data) / width
	d.buf.Data = d.buf.Data[:0]
	d.buf.SourceBitDepth = d.bits
	for i := 0; i < n; i++ {
		b := p.Data[i*width : (i+1)*width]
		d.buf.Data = append(d.buf.Data, d.sample(b))
	}
	return d.buf, nil
}

func (d *pcmDecoder) sample(b []byte) float32 {
	if d.float {
		if d.bits == 64 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
	switch d.bits {
	case 8:
		return (float32(b[0]) - 128) / 128
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float32(v) / 8388608
	default:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
	}
}

func (d *pcmDecoder) Reset() error { return nil }

// ====================================================
// Opus
// ====================================================

type opusDecoder struct {
	sd    *audioengine.StreamDecoder
	pcm   []float32
	delay uint64
	skip  uint64
	buf   *audio.Float32Buffer
}

func (d *opusDecoder) Decode(p Packet) (*audio.Float32Buffer, error) {
	n, err := d.sd.DecodeFloat(p.Data, d.pcm)
	if err != nil {
		return nil, DecodeError{Err: err}
	}
	ch := d.sd.Channels()
	samples := d.pcm[:n*ch]
	if d.skip > 0 {
		drop := d.skip
		if drop > uint64(n) {
			drop = uint64(n)
		}
		samples = samples[int(drop)*ch:]
		d.skip -= drop
	}
	d.buf.Data = append(d.buf.Data[:0], samples...)
	d.buf.SourceBitDepth = 16
	return d.buf, nil
}

func (d *opusDecoder) Reset() error {
	d.skip = d.delay
	return d.sd.Reset()
}

// ====================================================
// Pre-decoded frames (beep backed codecs)
// ====================================================

type framesDecoder struct {
	buf *audio.Float32Buffer
}

func (d *framesDecoder) Decode(p Packet) (*audio.Float32Buffer, error) {
	d.buf.Data = d.buf.Data[:0]
	for _, f := range p.Frames {
		d.buf.Data = append(d.buf.Data, float32(f[0]), float32(f[1]))
	}
	return d.buf, nil
}

func (d *framesDecoder) Reset() error { return nil }
