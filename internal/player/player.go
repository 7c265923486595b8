// Package player owns the "now playing" session: it starts one render
// goroutine per episode, forwards transport commands to it and publishes the
// playback status.
package player

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"podplayer/internal/events"
	"podplayer/internal/media"
	"podplayer/internal/mediakeys"
	"podplayer/internal/models"
	"podplayer/internal/output"
	"podplayer/pkg/audioengine"
	"podplayer/pkg/audiospec"
)

var (
	ErrNoLocalFile = errors.New("player: episode has no local file")
	ErrNoControls  = errors.New("player: media controls unavailable")
)

// Library is the data layer the controller reads episodes from and writes
// listening progress to.
type Library interface {
	FindEpisode(id int64) (models.Episode, error)
	FindPodcast(id int64) (models.Podcast, error)
	FindOrCreateProgress(episodeID int64) (models.EpisodeProgress, error)
	// UpdateProgress applies only when updatedAt is newer than the stored row.
	UpdateProgress(episodeID, listenedSeconds int64, completed bool, updatedAt time.Time) (bool, error)
}

type (
	Prober       func(path string) (media.FormatReader, error)
	DurationFunc func(path string) (time.Duration, error)
	// CoverFunc resolves a cover URL for episodes whose podcast has none.
	CoverFunc func(models.Episode) string
)

type Options struct {
	Library    Library
	Emitter    events.Emitter
	Opener     output.Opener
	Prober     Prober
	DurationOf DurationFunc
	Logger     *zap.Logger

	Controls       mediakeys.Factory
	ControlsConfig mediakeys.Config
	Hooks          mediakeys.Hooks
	Cover          CoverFunc

	// Volume is the initial linear volume in (0,1]; zero selects full volume.
	Volume        float64
	PlaybackSpeed float64

	UIInterval   time.Duration
	SaveInterval time.Duration
	PollInterval time.Duration
	Now          func() time.Time
}

// session is the state shared between callers and the render goroutine.
// It is replaced as a whole, never patched field by field from outside mu.
type session struct {
	episode    *models.Episode
	podcast    *models.Podcast
	progressID int64
	duration   int64
	paused     bool
	generation uint64
}

type Controller struct {
	lib        Library
	emit       events.Emitter
	open       output.Opener
	probe      Prober
	durationOf DurationFunc
	log        *zap.Logger

	controls       mediakeys.Factory
	controlsConfig mediakeys.Config
	hooks          mediakeys.Hooks
	cover          CoverFunc

	uiInterval   time.Duration
	saveInterval time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu   sync.RWMutex
	sess session

	elapsedMs  atomic.Int64
	volumeBits atomic.Uint64
	gainBits   atomic.Uint64
	speedBits  atomic.Uint64

	// transport serialises session replacement; handleMu guards active.
	// cmdMu orders paused-state changes with the commands sent for them.
	transport  sync.Mutex
	cmdMu      sync.Mutex
	handleMu   sync.Mutex
	active     *renderHandle
	generation uint64

	statusMu sync.RWMutex
	latest   *PlayerStatus

	analysis   atomic.Pointer[analysis]
	nowPlaying atomic.Pointer[mediakeys.NowPlaying]
}

func New(opts Options) (*Controller, error) {
	if opts.Library == nil {
		return nil, fmt.Errorf("player: missing library")
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("player: missing output opener")
	}
	c := &Controller{
		lib:            opts.Library,
		emit:           opts.Emitter,
		open:           opts.Opener,
		probe:          opts.Prober,
		durationOf:     opts.DurationOf,
		log:            opts.Logger,
		controls:       opts.Controls,
		controlsConfig: opts.ControlsConfig,
		hooks:          opts.Hooks,
		cover:          opts.Cover,
		uiInterval:     opts.UIInterval,
		saveInterval:   opts.SaveInterval,
		pollInterval:   opts.PollInterval,
		now:            opts.Now,
	}
	if c.emit == nil {
		c.emit = events.Multi{}
	}
	if c.probe == nil {
		c.probe = media.Probe
	}
	if c.durationOf == nil {
		c.durationOf = media.Duration
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.uiInterval <= 0 {
		c.uiInterval = audiospec.UIBroadcastInterval
	}
	if c.saveInterval <= 0 {
		c.saveInterval = audiospec.SaveBroadcastInterval
	}
	if c.pollInterval <= 0 {
		c.pollInterval = audiospec.PausePollInterval
	}
	if c.now == nil {
		c.now = time.Now
	}

	volume := opts.Volume
	if volume <= 0 || math.IsNaN(volume) {
		volume = 1
	}
	c.SetVolume(volume)
	speed := opts.PlaybackSpeed
	if speed <= 0 {
		speed = 1
	}
	c.SetPlaybackSpeed(speed)
	return c, nil
}

// ====================================
// Sessions
// ====================================

// PlayEpisodeByID loads the episode and starts it at startSeconds.
func (c *Controller) PlayEpisodeByID(id, startSeconds int64) error {
	ep, err := c.lib.FindEpisode(id)
	if err != nil {
		return fmt.Errorf("player: episode %d: %w", id, err)
	}
	return c.PlayEpisode(ep, startSeconds)
}

// PlayEpisode replaces the current session. The previous render goroutine is
// stopped and joined before the new one starts.
func (c *Controller) PlayEpisode(ep models.Episode, startSeconds int64) error {
	return c.startEpisode(ep, startSeconds, false)
}

// LoadEpisode replaces the current session like PlayEpisode but leaves it
// paused at startSeconds. No audio is written until Play.
func (c *Controller) LoadEpisode(ep models.Episode, startSeconds int64) error {
	return c.startEpisode(ep, startSeconds, true)
}

func (c *Controller) startEpisode(ep models.Episode, startSeconds int64, paused bool) error {
	if ep.ContentLocalPath == "" {
		return ErrNoLocalFile
	}
	if startSeconds < 0 {
		startSeconds = 0
	}
	podcast, err := c.lib.FindPodcast(ep.PodcastID)
	if err != nil {
		return fmt.Errorf("player: podcast %d: %w", ep.PodcastID, err)
	}
	length, err := c.durationOf(ep.ContentLocalPath)
	if err != nil {
		return fmt.Errorf("player: duration: %w", err)
	}
	ep.Length = int64(length / time.Second)

	var progressID int64
	if progress, err := c.lib.FindOrCreateProgress(ep.ID); err != nil {
		c.log.Warn("progress lookup failed", zap.Int64("episode", ep.ID), zap.Error(err))
	} else {
		progressID = progress.ID
	}

	c.transport.Lock()
	defer c.transport.Unlock()

	c.stopActive()

	c.generation++
	gen := c.generation
	c.elapsedMs.Store(startSeconds * 1000)
	c.analysis.Store(nil)

	// the handle is visible together with the session, so transport
	// commands issued while the file is probed queue up for the render loop
	h := newRenderHandle()
	c.cmdMu.Lock()
	c.mu.Lock()
	c.sess = session{
		episode:    &ep,
		podcast:    &podcast,
		progressID: progressID,
		duration:   ep.Length,
		paused:     paused,
		generation: gen,
	}
	c.mu.Unlock()
	c.handleMu.Lock()
	c.active = h
	c.handleMu.Unlock()
	c.cmdMu.Unlock()

	c.broadcast(true, true)

	reader, err := c.probe(ep.ContentLocalPath)
	if err != nil {
		c.handleMu.Lock()
		if c.active == h {
			c.active = nil
		}
		c.handleMu.Unlock()
		close(h.done)
		c.clearSession(gen)
		c.broadcast(true, false)
		return fmt.Errorf("player: probe %s: %w", ep.ContentLocalPath, err)
	}

	c.log.Debug("render start",
		zap.Int64("episode", ep.ID),
		zap.Int64("start", startSeconds),
		zap.Bool("paused", paused),
		zap.Uint64("generation", gen))
	go c.render(h, reader, startSeconds, paused, gen)
	return nil
}

// stopActive sends Stop to the running render goroutine and waits for it.
// Callers hold c.transport.
func (c *Controller) stopActive() {
	c.handleMu.Lock()
	h := c.active
	c.active = nil
	c.handleMu.Unlock()
	if h == nil {
		return
	}
	h.send(command{op: opStop})
	<-h.done
}

func (c *Controller) clearSession(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.generation != gen {
		return false
	}
	c.sess = session{generation: gen}
	c.elapsedMs.Store(0)
	c.analysis.Store(nil)
	return true
}

// Shutdown stops playback without clearing broadcasts and releases media controls.
func (c *Controller) Shutdown() {
	c.transport.Lock()
	c.stopActive()
	c.transport.Unlock()
	if np := c.nowPlaying.Swap(nil); np != nil {
		np.Clear()
		_ = np.Close()
	}
}

// ====================================
// Transport
// ====================================

func (c *Controller) hasSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.episode != nil
}

func (c *Controller) sendCommand(cmd command) {
	c.handleMu.Lock()
	h := c.active
	c.handleMu.Unlock()
	if h != nil {
		h.send(cmd)
	}
}

// setPaused applies the new state chosen by next from the current one. The
// flip and its command happen under cmdMu so concurrent callers reach the
// render loop in the same order as they changed the session.
func (c *Controller) setPaused(next func(paused bool) bool) {
	c.cmdMu.Lock()
	c.mu.Lock()
	if c.sess.episode == nil {
		c.mu.Unlock()
		c.cmdMu.Unlock()
		return
	}
	paused := next(c.sess.paused)
	c.sess.paused = paused
	c.mu.Unlock()

	op := opResume
	if paused {
		op = opPause
	}
	c.sendCommand(command{op: op})
	c.cmdMu.Unlock()
	c.broadcast(true, false)
}

func (c *Controller) Play()        { c.setPaused(func(bool) bool { return false }) }
func (c *Controller) Pause()       { c.setPaused(func(bool) bool { return true }) }
func (c *Controller) TogglePause() { c.setPaused(func(p bool) bool { return !p }) }

// SeekTo moves playback to seconds. Negative targets are ignored.
func (c *Controller) SeekTo(seconds int64) {
	if seconds < 0 {
		return
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if !c.hasSession() {
		return
	}
	c.sendCommand(command{op: opSeek, seconds: seconds})
}

func (c *Controller) SkipForwards() {
	c.SeekTo(c.ElapsedSeconds() + audiospec.SkipForwardSeconds)
}

// SkipBackwards near the start of an episode asks for a negative target,
// which SeekTo drops.
func (c *Controller) SkipBackwards() {
	c.SeekTo(c.ElapsedSeconds() - audiospec.SkipBackwardSeconds)
}

// ====================================
// Settings & queries
// ====================================

// SetVolume takes a linear 0..1 volume and stores the perceptual gain.
func (c *Controller) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	v = min(max(v, 0), 1)
	c.volumeBits.Store(math.Float64bits(v))
	c.gainBits.Store(math.Float64bits(audioengine.VolumeToGain(v)))
}

func (c *Controller) Volume() float64 { return math.Float64frombits(c.volumeBits.Load()) }
func (c *Controller) gain() float64   { return math.Float64frombits(c.gainBits.Load()) }

// SetPlaybackSpeed stores the speed. The render loop does not resample.
func (c *Controller) SetPlaybackSpeed(v float64) {
	if v <= 0 || math.IsNaN(v) {
		return
	}
	c.speedBits.Store(math.Float64bits(v))
}

func (c *Controller) PlaybackSpeed() float64 { return math.Float64frombits(c.speedBits.Load()) }

func (c *Controller) ElapsedSeconds() int64 { return c.elapsedMs.Load() / 1000 }

func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.paused
}

// LatestStatus returns the status of the last broadcast.
func (c *Controller) LatestStatus() (PlayerStatus, bool) {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	if c.latest == nil {
		return PlayerStatus{}, false
	}
	return *c.latest, true
}

// ====================================
// Media controls
// ====================================

// SetUpMediaControls registers with the OS media controls. window is the
// native window handle where the platform needs one.
func (c *Controller) SetUpMediaControls(window uintptr) error {
	if c.controls == nil {
		return ErrNoControls
	}
	cfg := c.controlsConfig
	cfg.Window = window
	ctrl, err := c.controls(cfg)
	if err != nil {
		return fmt.Errorf("player: media controls: %w", err)
	}
	if err := ctrl.Attach(func(ev mediakeys.Event) {
		c.log.Info("media control event", zap.Stringer("kind", ev.Kind))
		mediakeys.Dispatch(c, ev, c.hooks)
	}); err != nil {
		_ = ctrl.Close()
		return fmt.Errorf("player: attach media controls: %w", err)
	}
	if old := c.nowPlaying.Swap(mediakeys.NewNowPlaying(ctrl, c.log)); old != nil {
		_ = old.Close()
	}
	return nil
}
