/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the Podplayer project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podplayer/internal/artwork"
	"podplayer/internal/config"
	"podplayer/internal/media"
	"podplayer/internal/models"
	"podplayer/internal/storage"
	"podplayer/pkg/audioengine"
)

const (
	version_major   = 1
	version_minor   = 0
	app_name        = "Podplayer-Meta"
	general_usage   = "Usage: ./podplayer-meta -file <audio file>"
	json_dump_usage = "Usage: ./podplayer-meta -file <audio file> -jsondump"
	art_dump_usage  = "Usage: ./podplayer-meta -file <audio file> -artdump <cover.png>"
	register_usage  = "Usage: ./podplayer-meta -file <audio file> -register -podcast <name> [-title <title>]"
	waveform_usage  = "Usage: ./podplayer-meta -file <audio file> -waveform <points>"
)

type report struct {
	Path       string  `json:"path"`
	Format     string  `json:"format"`
	Codec      string  `json:"codec"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Bits       int     `json:"bits_per_sample,omitempty"`
	Duration   float64 `json:"duration"`
	Title      string  `json:"title,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	Artwork    string  `json:"artwork,omitempty"`
	Size       int64   `json:"size"`
	Waveform   []int   `json:"waveform,omitempty"`
}

func main() {
	pathFlag := flag.String("file", "", "audio file to inspect")
	jsonDump := flag.Bool("jsondump", false, "print the report as JSON")
	artDump := flag.String("artdump", "", "write the embedded cover, square cropped, to this PNG path")
	register := flag.Bool("register", false, "add the file as an episode in the library")
	podcast := flag.String("podcast", "", "podcast name used with -register")
	title := flag.String("title", "", "episode title used with -register (default: tag or file name)")
	dbPath := flag.String("db", "", "library database (default from config)")
	points := flag.Int("waveform", 0, "decode the whole file into this many RMS points")
	flag.Parse()

	if *pathFlag == "" {
		fmt.Printf("\n%s %d.%d\n", app_name, version_major, version_minor)
		fmt.Println(general_usage)
		fmt.Println(json_dump_usage)
		fmt.Println(art_dump_usage)
		fmt.Println(register_usage)
		fmt.Println(waveform_usage)
		return
	}

	rep, tags, err := inspect(*pathFlag)
	if err != nil {
		fmt.Printf("[!] %v\n", err)
		os.Exit(1)
	}

	if *artDump != "" {
		rep.Artwork = dumpArtwork(tags, *artDump)
	}

	if *points > 0 {
		wf, err := waveform(*pathFlag, *points)
		if err != nil {
			fmt.Printf("[!] waveform: %v\n", err)
			os.Exit(1)
		}
		rep.Waveform = wf
	}

	if *jsonDump {
		out, _ := json.MarshalIndent(rep, "", "  ")
		fmt.Println(string(out))
	} else {
		printReport(rep)
	}

	if *register {
		if err := registerEpisode(*dbPath, *podcast, *title, rep); err != nil {
			fmt.Printf("[!] register: %v\n", err)
			os.Exit(1)
		}
	}
}

func inspect(path string) (report, media.Tags, error) {
	st, err := os.Stat(path)
	if err != nil {
		return report{}, media.Tags{}, err
	}
	r, err := media.Probe(path)
	if err != nil {
		return report{}, media.Tags{}, fmt.Errorf("probe %s: %w", path, err)
	}
	id, ok := media.SelectTrack(r)
	track, _ := media.FindTrack(r, id)
	r.Close()
	if !ok {
		return report{}, media.Tags{}, fmt.Errorf("%s: no playable track", path)
	}

	dur, err := media.Duration(path)
	if err != nil {
		return report{}, media.Tags{}, fmt.Errorf("duration %s: %w", path, err)
	}
	tags, err := media.ReadTags(path)
	if err != nil {
		// tags are optional; a broken tag block still leaves a playable file
		fmt.Printf("[!] tags: %v\n", err)
	}

	return report{
		Path:       path,
		Format:     strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Codec:      track.Params.Codec.String(),
		SampleRate: track.Params.SampleRate,
		Channels:   track.Params.Channels,
		Bits:       track.Params.BitsPerSample,
		Duration:   dur.Seconds(),
		Title:      tags.Title,
		Artist:     tags.Artist,
		Album:      tags.Album,
		Size:       st.Size(),
	}, tags, nil
}

func dumpArtwork(tags media.Tags, dst string) string {
	if len(tags.Picture) == 0 {
		return "Tidak Ada Artwork"
	}
	data, err := artwork.Square(bytes.NewReader(tags.Picture), artwork.MaxSize)
	if err != nil {
		return fmt.Sprintf("artwork error: %v", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Sprintf("artwork error: %v", err)
	}
	return fmt.Sprintf("%s (%s, %s)", dst, tags.PictureMIME, formatSize(int64(len(tags.Picture))))
}

func printReport(rep report) {
	min := int(rep.Duration) / 60
	sec := int(rep.Duration) % 60
	fmt.Println(strings.Repeat("=", 75))
	fmt.Printf(" FILE          : %s\n", rep.Path)
	fmt.Printf(" FORMAT        : %s (%s)\n", rep.Format, rep.Codec)
	fmt.Printf(" SAMPLE RATE   : %d Hz\n", rep.SampleRate)
	fmt.Printf(" CHANNELS      : %d\n", rep.Channels)
	if rep.Bits > 0 {
		fmt.Printf(" BITS          : %d\n", rep.Bits)
	}
	fmt.Printf(" DURATION      : %02d:%02d\n", min, sec)
	fmt.Printf(" SIZE          : %s\n", formatSize(rep.Size))
	fmt.Println(strings.Repeat("-", 75))
	fmt.Printf(" TITLE         : %s\n", rep.Title)
	fmt.Printf(" ARTIST        : %s\n", rep.Artist)
	fmt.Printf(" ALBUM         : %s\n", rep.Album)
	if rep.Artwork != "" {
		fmt.Printf(" ARTWORK       : %s\n", rep.Artwork)
	}
	if len(rep.Waveform) > 0 {
		fmt.Println(strings.Repeat("-", 75))
		fmt.Printf(" WAVEFORM      : %s\n", sparkline(rep.Waveform, 56))
	}
	fmt.Println(strings.Repeat("=", 75))
}

// waveform decodes the first playable track and reduces it to n points.
func waveform(path string, n int) ([]int, error) {
	r, err := media.Probe(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	id, ok := media.SelectTrack(r)
	if !ok {
		return nil, fmt.Errorf("no playable track")
	}
	track, _ := media.FindTrack(r, id)
	dec, err := media.NewDecoder(track)
	if err != nil {
		return nil, err
	}

	wf := audioengine.NewWaveform(track.Params.NFrames, n)
	for {
		pkt, err := r.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if pkt.TrackID != id {
			continue
		}
		buf, err := dec.Decode(pkt)
		var de media.DecodeError
		if errors.As(err, &de) {
			continue
		}
		if err != nil {
			return nil, err
		}
		wf.Add(buf.Data, buf.Format.NumChannels)
	}

	pts := wf.Points()
	out := make([]int, len(pts))
	for i, p := range pts {
		out[i] = int(p)
	}
	return out, nil
}

// sparkline squeezes the points into width block characters.
func sparkline(pts []int, width int) string {
	const blocks = " ▁▂▃▄▅▆▇█"
	runes := []rune(blocks)
	if len(pts) < width {
		width = len(pts)
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		lo, hi := i*len(pts)/width, (i+1)*len(pts)/width
		peak := 0
		for _, p := range pts[lo:hi] {
			if p > peak {
				peak = p
			}
		}
		b.WriteRune(runes[peak*(len(runes)-1)/255])
	}
	return b.String()
}

func registerEpisode(dbPath, podcastName, title string, rep report) error {
	if podcastName == "" {
		podcastName = rep.Album
	}
	if podcastName == "" {
		return fmt.Errorf("-podcast is required when the file has no album tag")
	}
	if dbPath == "" {
		cfg, err := config.Load(config.DefaultPath())
		if err != nil {
			return err
		}
		dbPath = cfg.Database.Path
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	store, err := storage.Open(dbPath, storage.Options{BusyTimeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer store.Close()

	abs, err := filepath.Abs(rep.Path)
	if err != nil {
		return err
	}
	if title == "" {
		title = rep.Title
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}

	p := models.Podcast{GUID: "local:" + podcastName, Name: podcastName, Author: rep.Artist}
	if err := store.SavePodcast(&p); err != nil {
		return err
	}
	e := models.Episode{
		GUID:             "file:" + digest(abs),
		PodcastID:        p.ID,
		ContentLocalPath: abs,
		Length:           int64(rep.Duration),
		EpisodeDate:      time.Now().UTC(),
		Title:            title,
	}
	if err := store.SaveEpisode(&e); err != nil {
		return err
	}
	fmt.Printf(" REGISTERED    : episode %d in podcast %d (%s)\n", e.ID, p.ID, p.Name)
	return nil
}

func digest(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
