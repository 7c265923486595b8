package audioengine

import (
	"github.com/hraban/opus"
)

type StreamDecoder struct {
	dec      *opus.Decoder
	rate     int
	channels int
}

func NewStreamDecoder(rate, channels int) (*StreamDecoder, error) {
	d, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, err
	}
	return &StreamDecoder{dec: d, rate: rate, channels: channels}, nil
}

func (sd *StreamDecoder) Channels() int { return sd.channels }

// DecodeFloat decodes one Opus packet into interleaved float samples and
// returns the number of samples per channel.
func (sd *StreamDecoder) DecodeFloat(frame []byte, outPcm []float32) (int, error) {
	return sd.dec.DecodeFloat32(frame, outPcm)
}

// Reset drops the decoder state, used after a backwards seek.
func (sd *StreamDecoder) Reset() error {
	d, err := opus.NewDecoder(sd.rate, sd.channels)
	if err != nil {
		return err
	}
	sd.dec = d
	return nil
}
