package player

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"

	"podplayer/internal/media"
	"podplayer/internal/mediakeys"
	"podplayer/internal/models"
	"podplayer/internal/output"
	"podplayer/internal/storage"
)

const (
	testRate          = 8000
	testChannels      = 2
	framesPerPacket   = 800 // 100ms
	bytesPerFrame     = testChannels * 2
	testEpisodeID     = 11
	testPodcastID     = 3
	testProgressID    = 21
	testEpisodeLength = 1000 * time.Second
)

// ====================================
// Format reader
// ====================================

type fakeReader struct {
	mu       sync.Mutex
	track    media.Track
	packets  []media.Packet
	pos      int
	seeks    []time.Duration
	coarse   int // packets a seek lands before its target
	closed   atomic.Bool
	seekErrs []error
}

// newFakeReader builds 16-bit stereo PCM packets; indexes in corrupt carry a
// truncated payload.
func newFakeReader(n int, corrupt ...int) *fakeReader {
	r := &fakeReader{track: media.Track{ID: 1, Params: media.CodecParams{
		Codec:           media.CodecPCM,
		SampleRate:      testRate,
		Channels:        testChannels,
		BitsPerSample:   16,
		NFrames:         uint64(n * framesPerPacket),
		FramesPerPacket: framesPerPacket,
	}}}
	bad := map[int]bool{}
	for _, i := range corrupt {
		bad[i] = true
	}
	for i := 0; i < n; i++ {
		data := make([]byte, framesPerPacket*bytesPerFrame)
		for j := 0; j < len(data); j += 2 {
			data[j+1] = 0x20
		}
		if bad[i] {
			data = data[:3]
		}
		r.packets = append(r.packets, media.Packet{
			TrackID: 1,
			TS:      uint64(i * framesPerPacket),
			Dur:     framesPerPacket,
			Data:    data,
		})
	}
	return r
}

func (r *fakeReader) Tracks() []media.Track { return []media.Track{r.track} }

func (r *fakeReader) NextPacket() (media.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.packets) {
		return media.Packet{}, io.EOF
	}
	p := r.packets[r.pos]
	r.pos++
	return p, nil
}

func (r *fakeReader) Seek(trackID uint32, to time.Duration) (media.SeekedTo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeks = append(r.seeks, to)
	if len(r.seekErrs) > 0 {
		err := r.seekErrs[0]
		r.seekErrs = r.seekErrs[1:]
		if err != nil {
			return media.SeekedTo{}, err
		}
	}
	target := r.track.TSOf(to)
	idx := int(target / framesPerPacket)
	idx = max(idx-r.coarse, 0)
	r.pos = min(idx, len(r.packets))
	actual := target
	if r.pos < len(r.packets) {
		actual = r.packets[r.pos].TS
	}
	return media.SeekedTo{TrackID: trackID, RequiredTS: target, ActualTS: actual}, nil
}

func (r *fakeReader) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *fakeReader) seekLog() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.seeks...)
}

// ====================================
// Output sinks
// ====================================

type sinkRecorder struct {
	mu         sync.Mutex
	live       int
	maxLive    int
	opened     int
	frames     int
	writeDelay time.Duration
	openErr    error
}

func (r *sinkRecorder) opener() output.Opener {
	return func(spec output.Spec, capacity int) (output.Sink, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.openErr != nil {
			return nil, r.openErr
		}
		r.opened++
		r.live++
		r.maxLive = max(r.maxLive, r.live)
		return &recordingSink{r: r, channels: spec.Channels}, nil
	}
}

func (r *sinkRecorder) stats() (opened, live, maxLive, frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened, r.live, r.maxLive, r.frames
}

type recordingSink struct {
	r        *sinkRecorder
	channels int
	closed   bool
}

func (s *recordingSink) Write(buf *audio.Float32Buffer) error {
	if s.r.writeDelay > 0 {
		time.Sleep(s.r.writeDelay)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.frames += len(buf.Data) / s.channels
	return nil
}

func (s *recordingSink) Close() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.r.live--
	}
	return nil
}

// ====================================
// Emitter
// ====================================

type recordingEmitter struct {
	mu       sync.Mutex
	statuses []PlayerStatus
	keys     []string
	err      error
}

func (e *recordingEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch event {
	case "player-status":
		e.statuses = append(e.statuses, payload.(PlayerStatus))
	case "invalidate-cache":
		e.keys = append(e.keys, payload.(string))
	}
	return e.err
}

func (e *recordingEmitter) snapshot() ([]PlayerStatus, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PlayerStatus(nil), e.statuses...), append([]string(nil), e.keys...)
}

// ====================================
// Library
// ====================================

type progressWrite struct {
	listened  int64
	completed bool
	at        time.Time
	applied   bool
}

type fakeLibrary struct {
	mu       sync.Mutex
	episodes map[int64]models.Episode
	podcasts map[int64]models.Podcast
	progress map[int64]models.EpisodeProgress
	writes   []progressWrite
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		episodes: map[int64]models.Episode{
			testEpisodeID: {
				ID:               testEpisodeID,
				PodcastID:        testPodcastID,
				Title:            "Pilot",
				ContentLocalPath: "/podcasts/pilot.wav",
				Length:           42,
			},
		},
		podcasts: map[int64]models.Podcast{
			testPodcastID: {ID: testPodcastID, Name: "The Show", ImageURL: "https://example.com/show.jpg"},
		},
		progress: map[int64]models.EpisodeProgress{},
	}
}

func (l *fakeLibrary) FindEpisode(id int64) (models.Episode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep, ok := l.episodes[id]
	if !ok {
		return models.Episode{}, fmt.Errorf("episode %d: %w", id, storage.ErrNotFound)
	}
	return ep, nil
}

func (l *fakeLibrary) FindPodcast(id int64) (models.Podcast, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.podcasts[id]
	if !ok {
		return models.Podcast{}, fmt.Errorf("podcast %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (l *fakeLibrary) FindOrCreateProgress(episodeID int64) (models.EpisodeProgress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.progress[episodeID]
	if !ok {
		p = models.EpisodeProgress{ID: testProgressID, EpisodeID: episodeID}
		l.progress[episodeID] = p
	}
	return p, nil
}

func (l *fakeLibrary) UpdateProgress(episodeID, listened int64, completed bool, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.progress[episodeID]
	applied := at.After(p.UpdatedAt)
	if applied {
		p.ListenedSeconds, p.Completed, p.UpdatedAt = listened, completed, at
		l.progress[episodeID] = p
	}
	l.writes = append(l.writes, progressWrite{listened: listened, completed: completed, at: at, applied: applied})
	return applied, nil
}

func (l *fakeLibrary) writeLog() []progressWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]progressWrite(nil), l.writes...)
}

// ====================================
// Media controls
// ====================================

type fakeControls struct {
	mu       sync.Mutex
	handler  func(mediakeys.Event)
	metadata []mediakeys.Metadata
	playback []mediakeys.Playback
	closed   bool
}

func (f *fakeControls) Attach(h func(mediakeys.Event)) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

func (f *fakeControls) SetMetadata(m mediakeys.Metadata) error {
	f.mu.Lock()
	f.metadata = append(f.metadata, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeControls) SetPlayback(p mediakeys.Playback) error {
	f.mu.Lock()
	f.playback = append(f.playback, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeControls) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeControls) fire(ev mediakeys.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

// ====================================
// Harness
// ====================================

type harness struct {
	ctrl   *Controller
	lib    *fakeLibrary
	sinks  *sinkRecorder
	events *recordingEmitter
	reader *fakeReader
}

func newHarness(t *testing.T, reader *fakeReader, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		lib:    newFakeLibrary(),
		sinks:  &sinkRecorder{},
		events: &recordingEmitter{},
		reader: reader,
	}
	opts := Options{
		Library: h.lib,
		Emitter: h.events,
		Opener:  h.sinks.opener(),
		Prober: func(string) (media.FormatReader, error) {
			return h.reader, nil
		},
		DurationOf:   func(string) (time.Duration, error) { return testEpisodeLength, nil },
		Volume:       1,
		UIInterval:   5 * time.Millisecond,
		SaveInterval: 20 * time.Millisecond,
		PollInterval: time.Millisecond,
	}
	if tweak != nil {
		tweak(&opts)
	}
	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Shutdown)
	return h
}

func (h *harness) episode(t *testing.T) models.Episode {
	t.Helper()
	ep, err := h.lib.FindEpisode(testEpisodeID)
	if err != nil {
		t.Fatalf("FindEpisode() error = %v", err)
	}
	return ep
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	waitFor(t, "session to end", func() bool {
		st, ok := h.ctrl.LatestStatus()
		return ok && st.Episode == nil
	})
}
