package media

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"podplayer/pkg/audiospec"
)

// ====================================================
// Ogg page layer (RFC 3533)
// ====================================================

const (
	oggHeaderSize = 27

	oggContinued = 0x01
	oggBOS       = 0x02
	oggEOS       = 0x04
)

var (
	oggMagic     = []byte("OggS")
	errOggBadCRC = errors.New("ogg: page checksum mismatch")
)

var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(crc uint32, b []byte) uint32 {
	for _, v := range b {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^v]
	}
	return crc
}

type oggPage struct {
	headerType byte
	granule    int64
	serial     uint32
	seq        uint32
	segments   []byte
	body       []byte
}

// readOggPage returns the next page, skipping garbage up to the capture pattern.
func readOggPage(r *bufio.Reader) (oggPage, error) {
	for {
		b, err := r.Peek(4)
		if err != nil {
			if err == io.ErrUnexpectedEOF || len(b) < 4 {
				return oggPage{}, io.EOF
			}
			return oggPage{}, err
		}
		if bytes.Equal(b, oggMagic) {
			break
		}
		if _, err := r.Discard(1); err != nil {
			return oggPage{}, err
		}
	}

	header := make([]byte, oggHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return oggPage{}, io.EOF
	}
	if header[4] != 0 {
		return oggPage{}, fmt.Errorf("ogg: unsupported version %d", header[4])
	}
	segments := make([]byte, header[26])
	if _, err := io.ReadFull(r, segments); err != nil {
		return oggPage{}, io.EOF
	}
	size := 0
	for _, s := range segments {
		size += int(s)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return oggPage{}, io.EOF
	}

	want := binary.LittleEndian.Uint32(header[22:26])
	binary.LittleEndian.PutUint32(header[22:26], 0)
	crc := oggCRC(0, header)
	crc = oggCRC(crc, segments)
	crc = oggCRC(crc, body)
	if crc != want {
		return oggPage{}, errOggBadCRC
	}

	return oggPage{
		headerType: header[5],
		granule:    int64(binary.LittleEndian.Uint64(header[6:14])),
		serial:     binary.LittleEndian.Uint32(header[14:18]),
		seq:        binary.LittleEndian.Uint32(header[18:22]),
		segments:   segments,
		body:       body,
	}, nil
}

// ====================================================
// Logical streams
// ====================================================

type oggStream struct {
	track   int
	codec   CodecType
	headers int
	packets int
	partial []byte
	// cum is the timestamp of the next audio packet.
	cum uint64
}

type oggReader struct {
	f       *os.File
	r       *bufio.Reader
	tracks  []Track
	streams map[uint32]*oggStream
	queue   []Packet
}

func openOgg(f *os.File) (FormatReader, error) {
	or, err := newOggReader(f)
	if err != nil {
		return nil, err
	}
	for _, t := range or.tracks {
		if t.Params.Codec == CodecOpus {
			return or, nil
		}
	}
	for _, t := range or.tracks {
		if t.Params.Codec == CodecVorbis {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return openBeep(f, CodecVorbis)
		}
	}
	return or, nil
}

func newOggReader(f *os.File) (*oggReader, error) {
	or := &oggReader{
		f:       f,
		r:       bufio.NewReaderSize(f, 64*1024),
		streams: map[uint32]*oggStream{},
	}
	// Every BOS page precedes the first data page.
	for {
		page, err := readOggPage(or.r)
		if err == errOggBadCRC {
			continue
		}
		if err != nil {
			if len(or.tracks) > 0 && err == io.EOF {
				return or, nil
			}
			return nil, fmt.Errorf("ogg: read headers: %w", err)
		}
		bos := page.headerType&oggBOS != 0
		if bos {
			or.tracks = append(or.tracks, Track{ID: page.serial})
			or.streams[page.serial] = &oggStream{track: len(or.tracks) - 1}
		}
		or.processPage(page)
		if !bos {
			return or, nil
		}
	}
}

func (or *oggReader) Tracks() []Track { return or.tracks }

func (or *oggReader) processPage(page oggPage) {
	st, ok := or.streams[page.serial]
	if !ok {
		return
	}
	if page.headerType&oggContinued == 0 {
		st.partial = st.partial[:0]
	} else if len(st.partial) == 0 && st.packets > 0 {
		// lost the first half of a packet, drop its tail
		st.partial = nil
		off := 0
		i := 0
		for ; i < len(page.segments); i++ {
			off += int(page.segments[i])
			if page.segments[i] < 255 {
				i++
				break
			}
		}
		page.body = page.body[off:]
		page.segments = page.segments[i:]
	}

	off := 0
	for _, lace := range page.segments {
		st.partial = append(st.partial, page.body[off:off+int(lace)]...)
		off += int(lace)
		if lace < 255 {
			pkt := make([]byte, len(st.partial))
			copy(pkt, st.partial)
			st.partial = st.partial[:0]
			or.completePacket(page.serial, st, pkt)
		}
	}
}

func (or *oggReader) completePacket(serial uint32, st *oggStream, data []byte) {
	idx := st.packets
	st.packets++
	if idx == 0 {
		or.identify(st, data)
	}
	if idx < st.headers {
		return
	}
	dur := uint64(0)
	if st.codec == CodecOpus {
		dur = opusPacketSamples(data)
	}
	or.queue = append(or.queue, Packet{
		TrackID: serial,
		TS:      st.cum,
		Dur:     dur,
		Data:    data,
	})
	st.cum += dur
}

func (or *oggReader) identify(st *oggStream, first []byte) {
	params := CodecParams{Codec: CodecNull}
	switch {
	case len(first) >= 19 && bytes.HasPrefix(first, []byte("OpusHead")):
		params = CodecParams{
			Codec:           CodecOpus,
			SampleRate:      audiospec.OpusSampleRate,
			Channels:        int(first[9]),
			Delay:           uint64(binary.LittleEndian.Uint16(first[10:12])),
			FramesPerPacket: 960,
		}
		st.headers = 2
		if first[18] != 0 || params.Channels < 1 || params.Channels > 2 {
			// multistream mappings are not decoded
			params.Codec = CodecNull
		}
	case len(first) >= 7 && first[0] == 0x01 && bytes.Equal(first[1:7], []byte("vorbis")):
		params = CodecParams{Codec: CodecVorbis}
		st.headers = 3
	}
	st.codec = params.Codec
	or.tracks[st.track].Params = params
}

func (or *oggReader) NextPacket() (Packet, error) {
	for len(or.queue) == 0 {
		page, err := readOggPage(or.r)
		if err == errOggBadCRC {
			continue
		}
		if err != nil {
			return Packet{}, err
		}
		or.processPage(page)
	}
	p := or.queue[0]
	or.queue = or.queue[1:]
	return p, nil
}

// cursor is the timestamp of the next packet of the stream.
func (or *oggReader) cursor(serial uint32, st *oggStream) uint64 {
	for _, p := range or.queue {
		if p.TrackID == serial {
			return p.TS
		}
	}
	return st.cum
}

// Seek moves forward by skipping whole packets. Seeking backwards rewinds
// to the start of the file and returns ErrResetRequired; the caller resets
// its decoder and seeks again.
func (or *oggReader) Seek(trackID uint32, to time.Duration) (SeekedTo, error) {
	st, ok := or.streams[trackID]
	if !ok {
		return SeekedTo{}, unknownTrack(trackID)
	}
	track := or.tracks[st.track]
	target := track.TSOf(to)

	if target < or.cursor(trackID, st) {
		if err := or.rewind(); err != nil {
			return SeekedTo{}, err
		}
		return SeekedTo{}, ErrResetRequired
	}

	for {
		p, err := or.NextPacket()
		if err == io.EOF {
			return SeekedTo{TrackID: trackID, RequiredTS: target, ActualTS: st.cum}, nil
		}
		if err != nil {
			return SeekedTo{}, err
		}
		if p.TrackID != trackID {
			continue
		}
		if p.TS+p.Dur > target {
			or.queue = append([]Packet{p}, or.queue...)
			return SeekedTo{TrackID: trackID, RequiredTS: target, ActualTS: p.TS}, nil
		}
	}
}

func (or *oggReader) rewind() error {
	if _, err := or.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	or.r.Reset(or.f)
	or.queue = nil
	for _, st := range or.streams {
		st.packets = 0
		st.partial = nil
		st.cum = 0
	}
	return nil
}

// duration scans the remaining pages for the last granule position of the stream.
func (or *oggReader) duration(trackID uint32) (time.Duration, error) {
	st, ok := or.streams[trackID]
	if !ok {
		return 0, unknownTrack(trackID)
	}
	var last int64
	for {
		page, err := readOggPage(or.r)
		if err == errOggBadCRC {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if page.serial == trackID && page.granule > last {
			last = page.granule
		}
	}
	if last <= 0 {
		return 0, nil
	}
	return or.tracks[st.track].TimeOf(uint64(last)), nil
}

func (or *oggReader) Close() error { return or.f.Close() }

// opusPacketSamples returns the packet length at 48kHz from its TOC byte (RFC 6716 3.1).
func opusPacketSamples(pkt []byte) uint64 {
	if len(pkt) == 0 {
		return 0
	}
	toc := pkt[0]
	config := toc >> 3
	var frame uint64
	switch {
	case config < 12:
		frame = [4]uint64{480, 960, 1920, 2880}[config&3]
	case config < 16:
		frame = [2]uint64{480, 960}[config&1]
	default:
		frame = [4]uint64{120, 240, 480, 960}[config&3]
	}
	var count uint64
	switch toc & 3 {
	case 0:
		count = 1
	case 1, 2:
		count = 2
	default:
		if len(pkt) < 2 {
			return 0
		}
		count = uint64(pkt[1] & 0x3f)
	}
	return frame * count
}
