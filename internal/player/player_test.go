package player

import (
	"errors"
	"sync"
	"testing"
	"time"

	"podplayer/internal/media"
	"podplayer/internal/mediakeys"
	"podplayer/internal/models"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without library")
	}
	if _, err := New(Options{Library: newFakeLibrary()}); err == nil {
		t.Fatal("expected error without output opener")
	}
}

func TestPlayEpisode_NoLocalFile(t *testing.T) {
	h := newHarness(t, newFakeReader(1), nil)
	ep := h.episode(t)
	ep.ContentLocalPath = ""

	if err := h.ctrl.PlayEpisode(ep, 0); !errors.Is(err, ErrNoLocalFile) {
		t.Fatalf("PlayEpisode() error = %v, want ErrNoLocalFile", err)
	}
	if _, ok := h.ctrl.LatestStatus(); ok {
		t.Fatal("no status expected after a rejected episode")
	}
}

func TestPlayEpisode_InitialStatus(t *testing.T) {
	h := newHarness(t, newFakeReader(200), nil)
	h.sinks.writeDelay = 20 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 7); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	st, ok := h.ctrl.LatestStatus()
	if !ok {
		t.Fatal("expected a status after PlayEpisode")
	}
	if st.IsPaused || st.Elapsed != 7 || !st.Loading {
		t.Fatalf("status = %+v, want playing, elapsed 7, loading", st)
	}
	if st.Episode == nil || st.Episode.ID != testEpisodeID || st.Podcast == nil || st.Podcast.ID != testPodcastID {
		t.Fatalf("status episode/podcast = %+v / %+v", st.Episode, st.Podcast)
	}
	// on-disk duration wins over the stored length
	if st.Duration != int64(testEpisodeLength/time.Second) || st.Episode.Length != st.Duration {
		t.Fatalf("duration = %d, episode length = %d", st.Duration, st.Episode.Length)
	}
	if h.ctrl.IsPaused() {
		t.Fatal("IsPaused() = true after PlayEpisode")
	}
}

func TestPlayEpisodeByID(t *testing.T) {
	h := newHarness(t, newFakeReader(3), nil)
	if err := h.ctrl.PlayEpisodeByID(999, 0); err == nil {
		t.Fatal("expected error for unknown episode")
	}
	if err := h.ctrl.PlayEpisodeByID(testEpisodeID, 0); err != nil {
		t.Fatalf("PlayEpisodeByID() error = %v", err)
	}
	h.waitIdle(t)
}

func TestPlayEpisode_ProbeFailure(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Prober = func(string) (media.FormatReader, error) { return nil, media.ErrUnsupportedFormat }
	})
	err := h.ctrl.PlayEpisode(h.episode(t), 0)
	if !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Fatalf("PlayEpisode() error = %v, want ErrUnsupportedFormat", err)
	}
	st, _ := h.ctrl.LatestStatus()
	if st.Episode != nil {
		t.Fatal("session should be cleared after a failed probe")
	}
}

func TestPlayEpisode_ReplacesSessionWithoutOverlap(t *testing.T) {
	first := newFakeReader(500)
	h := newHarness(t, first, nil)
	h.sinks.writeDelay = 5 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	waitFor(t, "first sink", func() bool {
		opened, _, _, _ := h.sinks.stats()
		return opened == 1
	})

	second := newFakeReader(500)
	h.reader = second
	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	if !first.closed.Load() {
		t.Fatal("first render goroutine must be joined before the second starts")
	}
	waitFor(t, "second sink", func() bool {
		opened, _, _, _ := h.sinks.stats()
		return opened == 2
	})

	_, live, maxLive, _ := h.sinks.stats()
	if live != 1 || maxLive != 1 {
		t.Fatalf("live sinks = %d, max concurrent = %d, want 1 and 1", live, maxLive)
	}

	statuses, _ := h.events.snapshot()
	for i, st := range statuses {
		if st.Episode == nil {
			t.Fatalf("status %d cleared the session between episodes", i)
		}
	}
}

func TestTransport_NoSessionIsNoop(t *testing.T) {
	h := newHarness(t, newFakeReader(1), nil)

	h.ctrl.SeekTo(-1)
	h.ctrl.SeekTo(10)
	h.ctrl.SkipBackwards()
	h.ctrl.SkipForwards()
	h.ctrl.Play()
	h.ctrl.Pause()
	h.ctrl.TogglePause()

	if statuses, _ := h.events.snapshot(); len(statuses) != 0 {
		t.Fatalf("expected no broadcasts, got %d", len(statuses))
	}
	if h.ctrl.IsPaused() {
		t.Fatal("idle controller must not report paused")
	}
}

func TestSkipBackwards_NegativeTargetDropped(t *testing.T) {
	reader := newFakeReader(400)
	h := newHarness(t, reader, nil)
	h.sinks.writeDelay = 5 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.ctrl.SkipBackwards()
	h.ctrl.SeekTo(-3)
	h.ctrl.SeekTo(2)

	waitFor(t, "seek", func() bool { return len(reader.seekLog()) == 1 })
	if got := reader.seekLog(); got[0] != 2*time.Second {
		t.Fatalf("seeks = %v, want only 2s", got)
	}
}

func TestSkipForwards_FromElapsed(t *testing.T) {
	reader := newFakeReader(2000)
	h := newHarness(t, reader, nil)
	h.sinks.writeDelay = 5 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 40); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.ctrl.SkipForwards()
	waitFor(t, "skip", func() bool { return len(reader.seekLog()) == 2 })
	// first seek is the start position, then 40+30
	if got := reader.seekLog(); got[0] != 40*time.Second || got[1] != 70*time.Second {
		t.Fatalf("seeks = %v", got)
	}
}

func TestSeek_DiscardsAudioBeforeTarget(t *testing.T) {
	reader := newFakeReader(30)
	reader.coarse = 2
	h := newHarness(t, reader, nil)

	if err := h.ctrl.PlayEpisode(h.episode(t), 1); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)

	// the reader lands two packets early; those are decoded but not written
	_, _, _, frames := h.sinks.stats()
	if want := (30 - 10) * framesPerPacket; frames != want {
		t.Fatalf("frames written = %d, want %d", frames, want)
	}
}

func TestSeek_ResetRequiredRetries(t *testing.T) {
	reader := newFakeReader(400)
	h := newHarness(t, reader, nil)
	h.sinks.writeDelay = 5 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	reader.mu.Lock()
	reader.seekErrs = []error{media.ErrResetRequired}
	reader.mu.Unlock()
	h.ctrl.SeekTo(5)

	waitFor(t, "retried seek", func() bool { return len(reader.seekLog()) == 2 })
	waitFor(t, "elapsed after seek", func() bool { return h.ctrl.ElapsedSeconds() >= 5 })
}

func TestDecodeError_DoesNotHaltPlayback(t *testing.T) {
	h := newHarness(t, newFakeReader(11, 5), nil)

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)

	_, live, _, frames := h.sinks.stats()
	if want := 10 * framesPerPacket; frames != want {
		t.Fatalf("frames written = %d, want %d", frames, want)
	}
	if live != 0 {
		t.Fatalf("sink left open after end of stream")
	}
}

func TestEndOfStream_ClearsSession(t *testing.T) {
	h := newHarness(t, newFakeReader(5), nil)

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)

	st, _ := h.ctrl.LatestStatus()
	if st.Episode != nil || st.Podcast != nil || st.Elapsed != 0 || st.Duration != 0 {
		t.Fatalf("final status = %+v, want cleared", st)
	}
	statuses, keys := h.events.snapshot()
	if last := statuses[len(statuses)-1]; last.Episode != nil {
		t.Fatal("last broadcast should be the cleared status")
	}
	if len(keys) == 0 || keys[0] != "episodeProgress-21" {
		t.Fatalf("invalidate-cache keys = %v", keys)
	}
	if !h.reader.closed.Load() {
		t.Fatal("reader not closed")
	}
}

func TestNoPlayableTrack_EndsSilently(t *testing.T) {
	reader := newFakeReader(5)
	reader.track.Params.Codec = media.CodecNull
	h := newHarness(t, reader, nil)

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)
	if opened, _, _, _ := h.sinks.stats(); opened != 0 {
		t.Fatalf("no output expected, opened %d sinks", opened)
	}
}

func TestOutputOpenFailure_EndsSession(t *testing.T) {
	h := newHarness(t, newFakeReader(5), nil)
	h.sinks.openErr = errors.New("no device")

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)
}

func TestEmitterFailure_DoesNotStopPlayback(t *testing.T) {
	h := newHarness(t, newFakeReader(8), nil)
	h.events.err = errors.New("ui disconnected")

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)
	if _, _, _, frames := h.sinks.stats(); frames != 8*framesPerPacket {
		t.Fatalf("frames written = %d", frames)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, newFakeReader(1000), nil)
	h.sinks.writeDelay = 2 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	waitFor(t, "audio", func() bool {
		_, _, _, frames := h.sinks.stats()
		return frames > 0
	})

	h.ctrl.Pause()
	if !h.ctrl.IsPaused() {
		t.Fatal("IsPaused() = false right after Pause")
	}
	if st, _ := h.ctrl.LatestStatus(); !st.IsPaused {
		t.Fatal("status should reflect the pause immediately")
	}

	time.Sleep(30 * time.Millisecond)
	_, _, _, before := h.sinks.stats()
	time.Sleep(50 * time.Millisecond)
	if _, _, _, after := h.sinks.stats(); after != before {
		t.Fatalf("audio written while paused: %d -> %d", before, after)
	}

	h.ctrl.TogglePause()
	if h.ctrl.IsPaused() {
		t.Fatal("TogglePause should resume")
	}
	waitFor(t, "resume", func() bool {
		_, _, _, frames := h.sinks.stats()
		return frames > before
	})
}

func TestVolume(t *testing.T) {
	h := newHarness(t, newFakeReader(1), nil)
	c := h.ctrl

	c.SetVolume(0)
	if c.gain() != 0 {
		t.Fatalf("gain at volume 0 = %v", c.gain())
	}
	c.SetVolume(1)
	if c.gain() != 1 {
		t.Fatalf("gain at volume 1 = %v", c.gain())
	}

	prev := -1.0
	for v := 0.0; v <= 1.0; v += 0.05 {
		c.SetVolume(v)
		if g := c.gain(); g <= prev {
			t.Fatalf("gain not increasing at %v: %v <= %v", v, g, prev)
		} else {
			prev = g
		}
	}

	c.SetVolume(3)
	if c.Volume() != 1 {
		t.Fatalf("Volume() = %v, want clamped 1", c.Volume())
	}
}

func TestPlaybackSpeed_Stored(t *testing.T) {
	h := newHarness(t, newFakeReader(1), func(o *Options) { o.PlaybackSpeed = 0 })
	if h.ctrl.PlaybackSpeed() != 1 {
		t.Fatalf("default speed = %v", h.ctrl.PlaybackSpeed())
	}
	h.ctrl.SetPlaybackSpeed(1.5)
	h.ctrl.SetPlaybackSpeed(-1)
	if h.ctrl.PlaybackSpeed() != 1.5 {
		t.Fatalf("PlaybackSpeed() = %v", h.ctrl.PlaybackSpeed())
	}
}

func TestIsCompleted(t *testing.T) {
	cases := []struct {
		duration, listened int64
		want               bool
	}{
		{1000, 701, true},
		{1000, 700, false},
		{1000, 1000, true},
		{0, 0, false},
		{200, 0, true},
	}
	for _, tc := range cases {
		if got := isCompleted(tc.duration, tc.listened); got != tc.want {
			t.Fatalf("isCompleted(%d, %d) = %v, want %v", tc.duration, tc.listened, got, tc.want)
		}
	}
}

func TestProgress_CompletionAtPersistence(t *testing.T) {
	length := int64(testEpisodeLength / time.Second)
	for _, tc := range []struct {
		start int64
		want  bool
	}{
		{length - 299, true},
		{length - 300, false},
	} {
		h := newHarness(t, newFakeReader(1), nil)
		if err := h.ctrl.PlayEpisode(h.episode(t), tc.start); err != nil {
			t.Fatalf("PlayEpisode() error = %v", err)
		}
		writes := h.lib.writeLog()
		if len(writes) == 0 {
			t.Fatal("expected a progress write on start")
		}
		if writes[0].listened != tc.start || writes[0].completed != tc.want {
			t.Fatalf("start %d: write = %+v, want completed=%v", tc.start, writes[0], tc.want)
		}
		h.waitIdle(t)
	}
}

func TestProgress_StaleWriteIgnored(t *testing.T) {
	var mu sync.Mutex
	clock := time.Unix(1_700_000_000, 0)
	h := newHarness(t, newFakeReader(1), func(o *Options) {
		o.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			// every write is stamped earlier than the previous one
			clock = clock.Add(-time.Second)
			return clock
		}
	})
	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)

	writes := h.lib.writeLog()
	if len(writes) < 2 {
		t.Fatalf("expected several writes, got %d", len(writes))
	}
	for _, w := range writes[1:] {
		if w.applied {
			t.Fatalf("older write applied: %+v", w)
		}
	}
	if _, keys := h.events.snapshot(); len(keys) != 1 {
		t.Fatalf("only applied writes invalidate caches, got %v", keys)
	}
}

func TestMediaControls(t *testing.T) {
	fc := &fakeControls{}
	var quit bool
	h := newHarness(t, newFakeReader(1000), func(o *Options) {
		o.Controls = func(mediakeys.Config) (mediakeys.Controls, error) { return fc, nil }
		o.Hooks = mediakeys.Hooks{Quit: func() { quit = true }}
	})
	h.sinks.writeDelay = 2 * time.Millisecond

	if err := h.ctrl.SetUpMediaControls(0); err != nil {
		t.Fatalf("SetUpMediaControls() error = %v", err)
	}
	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}

	fc.fire(mediakeys.Event{Kind: mediakeys.KindToggle})
	if !h.ctrl.IsPaused() {
		t.Fatal("toggle should pause")
	}
	fc.fire(mediakeys.Event{Kind: mediakeys.KindPlay})
	if h.ctrl.IsPaused() {
		t.Fatal("play should resume")
	}
	fc.fire(mediakeys.Event{Kind: mediakeys.KindQuit})
	if !quit {
		t.Fatal("quit hook not called")
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.metadata) != 1 {
		t.Fatalf("metadata pushed %d times, want once per episode", len(fc.metadata))
	}
	m := fc.metadata[0]
	if m.Title != "Pilot" || m.Artist != "The Show" || m.CoverURL != "https://example.com/show.jpg" || m.TrackID != testEpisodeID {
		t.Fatalf("metadata = %+v", m)
	}
	if len(fc.playback) < 3 {
		t.Fatalf("playback pushes = %d", len(fc.playback))
	}
}

func TestMediaControls_CoverFallback(t *testing.T) {
	fc := &fakeControls{}
	h := newHarness(t, newFakeReader(1), func(o *Options) {
		o.Controls = func(mediakeys.Config) (mediakeys.Controls, error) { return fc, nil }
		o.Cover = func(ep models.Episode) string { return "file:///covers/episode-11.png" }
	})
	h.lib.podcasts[testPodcastID] = models.Podcast{ID: testPodcastID, Name: "The Show"}

	if err := h.ctrl.SetUpMediaControls(0); err != nil {
		t.Fatalf("SetUpMediaControls() error = %v", err)
	}
	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	h.waitIdle(t)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.metadata[0].CoverURL != "file:///covers/episode-11.png" {
		t.Fatalf("cover = %q", fc.metadata[0].CoverURL)
	}
	if last := fc.playback[len(fc.playback)-1]; last.State != mediakeys.Stopped {
		t.Fatalf("controls state after end = %v", last.State)
	}
}

func TestSetUpMediaControls_Unavailable(t *testing.T) {
	h := newHarness(t, newFakeReader(1), nil)
	if err := h.ctrl.SetUpMediaControls(0); !errors.Is(err, ErrNoControls) {
		t.Fatalf("SetUpMediaControls() error = %v, want ErrNoControls", err)
	}
}

func TestStatus_CarriesAnalysis(t *testing.T) {
	h := newHarness(t, newFakeReader(600), nil)
	h.sinks.writeDelay = time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	waitFor(t, "analysed status", func() bool {
		st, _ := h.ctrl.LatestStatus()
		return st.Level > 0 && len(st.Spectrum) > 0
	})
}

func TestPauseWhileLoading_IsHonoured(t *testing.T) {
	reader := newFakeReader(1000)
	probing := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, reader, func(o *Options) {
		o.Prober = func(string) (media.FormatReader, error) {
			close(probing)
			<-release
			return reader, nil
		}
	})
	h.sinks.writeDelay = 2 * time.Millisecond

	played := make(chan error, 1)
	go func() { played <- h.ctrl.PlayEpisode(h.episode(t), 0) }()
	<-probing

	h.ctrl.Pause()
	h.ctrl.SeekTo(3)
	close(release)
	if err := <-played; err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}

	waitFor(t, "queued seek", func() bool { return len(reader.seekLog()) == 1 })
	if got := reader.seekLog(); got[0] != 3*time.Second {
		t.Fatalf("seeks = %v, want 3s", got)
	}
	time.Sleep(50 * time.Millisecond)
	if _, _, _, frames := h.sinks.stats(); frames != 0 {
		t.Fatalf("%d frames written after a pause issued while loading", frames)
	}
	if !h.ctrl.IsPaused() {
		t.Fatal("IsPaused() = false after Pause during load")
	}
	if st, _ := h.ctrl.LatestStatus(); !st.IsPaused {
		t.Fatal("status should stay paused")
	}

	h.ctrl.Play()
	waitFor(t, "audio after resume", func() bool {
		_, _, _, frames := h.sinks.stats()
		return frames > 0
	})
}

func TestLoadEpisode_StartsPaused(t *testing.T) {
	reader := newFakeReader(1000)
	h := newHarness(t, reader, nil)
	h.sinks.writeDelay = 2 * time.Millisecond

	if err := h.ctrl.LoadEpisode(h.episode(t), 12); err != nil {
		t.Fatalf("LoadEpisode() error = %v", err)
	}
	st, ok := h.ctrl.LatestStatus()
	if !ok || !st.IsPaused || st.Elapsed != 12 {
		t.Fatalf("status = %+v, want paused at 12", st)
	}

	time.Sleep(50 * time.Millisecond)
	if opened, _, _, frames := h.sinks.stats(); opened != 0 || frames != 0 {
		t.Fatalf("loaded episode produced audio: %d sinks, %d frames", opened, frames)
	}

	h.ctrl.Play()
	waitFor(t, "audio after Play", func() bool {
		_, _, _, frames := h.sinks.stats()
		return frames > 0
	})
	if got := reader.seekLog(); len(got) == 0 || got[0] != 12*time.Second {
		t.Fatalf("seeks = %v, want start at 12s", got)
	}
}

func TestTogglePause_ConcurrentTogglesAgree(t *testing.T) {
	h := newHarness(t, newFakeReader(5000), nil)
	h.sinks.writeDelay = 2 * time.Millisecond

	if err := h.ctrl.PlayEpisode(h.episode(t), 0); err != nil {
		t.Fatalf("PlayEpisode() error = %v", err)
	}
	waitFor(t, "audio", func() bool {
		_, _, _, frames := h.sinks.stats()
		return frames > 0
	})

	// an odd number of flips must end paused, in the session and the render loop
	var wg sync.WaitGroup
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ctrl.TogglePause()
		}()
	}
	wg.Wait()

	if !h.ctrl.IsPaused() {
		t.Fatal("IsPaused() = false after 7 toggles")
	}
	time.Sleep(30 * time.Millisecond)
	_, _, _, before := h.sinks.stats()
	time.Sleep(50 * time.Millisecond)
	if _, _, _, after := h.sinks.stats(); after != before {
		t.Fatalf("render loop kept playing while paused: %d -> %d", before, after)
	}
}
