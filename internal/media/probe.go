package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type demuxer struct {
	name  string
	exts  []string
	match func(header []byte) bool
	open  func(f *os.File) (FormatReader, error)
}

var demuxers = []demuxer{
	{
		name: "wav",
		exts: []string{".wav", ".wave"},
		match: func(h []byte) bool {
			return len(h) >= 12 && bytes.Equal(h[0:4], []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WAVE"))
		},
		open: openWAV,
	},
	{
		name:  "flac",
		exts:  []string{".flac"},
		match: func(h []byte) bool { return bytes.HasPrefix(h, []byte("fLaC")) },
		open:  func(f *os.File) (FormatReader, error) { return openBeep(f, CodecFLAC) },
	},
	{
		name:  "ogg",
		exts:  []string{".ogg", ".oga", ".opus"},
		match: func(h []byte) bool { return bytes.HasPrefix(h, []byte("OggS")) },
		open:  openOgg,
	},
	{
		name: "mp3",
		exts: []string{".mp3", ".mpga"},
		match: func(h []byte) bool {
			if bytes.HasPrefix(h, []byte("ID3")) {
				return true
			}
			return len(h) >= 2 && h[0] == 0xFF && h[1]&0xE0 == 0xE0
		},
		open: func(f *os.File) (FormatReader, error) { return openBeep(f, CodecMP3) },
	},
}

// Probe opens path with the demuxer hinted by its extension, falling back
// to content sniffing across every known demuxer.
func Probe(path string) (FormatReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	header = header[:n]

	ext := strings.ToLower(filepath.Ext(path))
	tried := map[string]bool{}
	for _, d := range demuxers {
		if !hasExt(d, ext) {
			continue
		}
		tried[d.name] = true
		if r, err := openAt(f, d); err == nil {
			return r, nil
		}
	}

	for _, d := range demuxers {
		if tried[d.name] || !d.match(header) {
			continue
		}
		if r, err := openAt(f, d); err == nil {
			return r, nil
		}
	}

	_ = f.Close()
	return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

func hasExt(d demuxer, ext string) bool {
	for _, e := range d.exts {
		if e == ext {
			return true
		}
	}
	return false
}

func openAt(f *os.File, d demuxer) (FormatReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return d.open(f)
}

// Duration returns the on-disk length of the first playable track.
func Duration(path string) (time.Duration, error) {
	r, err := Probe(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	id, ok := SelectTrack(r)
	if !ok {
		return 0, nil
	}
	if or, ok := r.(*oggReader); ok {
		return or.duration(id)
	}
	track, _ := FindTrack(r, id)
	return track.Duration(), nil
}
