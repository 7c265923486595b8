package player

import (
	"time"

	"go.uber.org/zap"

	"podplayer/internal/mediakeys"
	"podplayer/internal/models"
	"podplayer/pkg/audioengine"
	"podplayer/pkg/audiospec"
)

// PlayerStatus is the snapshot published on every broadcast tick.
type PlayerStatus struct {
	IsPaused bool            `json:"isPaused"`
	Episode  *models.Episode `json:"episode"`
	Podcast  *models.Podcast `json:"podcast"`
	// Elapsed and Duration are in seconds.
	Elapsed  int64     `json:"elapsed"`
	Duration int64     `json:"duration"`
	Loading  bool      `json:"loading"`
	Level    float64   `json:"level"`
	Spectrum []float64 `json:"spectrum,omitempty"`
}

type analysis struct {
	level    float64
	spectrum []float64
}

func (c *Controller) analyse(samples []float32, channels int) {
	rms, _ := audioengine.Level(samples)
	c.analysis.Store(&analysis{
		level:    rms,
		spectrum: audioengine.Spectrum(samples, channels, audiospec.SpectrumSize, audiospec.SpectrumBands),
	})
}

// isCompleted reports whether listening stopped close enough to the end.
// Episodes of unknown length are never completed.
func isCompleted(duration, listened int64) bool {
	return duration > 0 && duration-listened < audiospec.CompletionThresholdSeconds
}

// broadcast publishes the current status. With save set it also persists
// progress and refreshes the OS media controls. Failures are logged only.
func (c *Controller) broadcast(save, loading bool) PlayerStatus {
	c.mu.RLock()
	s := c.sess
	c.mu.RUnlock()
	elapsedMs := c.elapsedMs.Load()

	if save && s.episode != nil {
		c.saveProgress(s, elapsedMs/1000)
	}

	status := PlayerStatus{
		IsPaused: s.paused,
		Episode:  s.episode,
		Podcast:  s.podcast,
		Elapsed:  elapsedMs / 1000,
		Duration: s.duration,
		Loading:  loading,
	}
	if a := c.analysis.Load(); a != nil && s.episode != nil {
		status.Level = a.level
		status.Spectrum = a.spectrum
	}

	c.statusMu.Lock()
	c.latest = &status
	c.statusMu.Unlock()

	if err := c.emit.Emit(audiospec.EventPlayerStatus, status); err != nil {
		c.log.Debug("status emit failed", zap.Error(err))
	}
	if save {
		c.pushNowPlaying(s, elapsedMs)
	}
	return status
}

func (c *Controller) saveProgress(s session, listened int64) {
	ep := s.episode
	completed := isCompleted(s.duration, listened)
	applied, err := c.lib.UpdateProgress(ep.ID, listened, completed, c.now())
	if err != nil {
		c.log.Warn("progress save failed", zap.Int64("episode", ep.ID), zap.Error(err))
		return
	}
	if !applied {
		c.log.Debug("progress save skipped, newer row stored", zap.Int64("episode", ep.ID))
		return
	}

	progressID := s.progressID
	if progressID == 0 {
		progress, err := c.lib.FindOrCreateProgress(ep.ID)
		if err != nil {
			c.log.Warn("progress lookup failed", zap.Int64("episode", ep.ID), zap.Error(err))
			return
		}
		progressID = progress.ID
	}
	c.log.Debug("progress saved",
		zap.Int64("episode", ep.ID),
		zap.Int64("listened", listened),
		zap.Bool("completed", completed))
	c.invalidate(models.ProgressChanged(progressID))
}

func (c *Controller) invalidate(change models.EntityChange) {
	for _, key := range change.CacheKeys() {
		if err := c.emit.Emit(audiospec.EventInvalidateCache, key); err != nil {
			c.log.Debug("invalidate emit failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *Controller) pushNowPlaying(s session, elapsedMs int64) {
	np := c.nowPlaying.Load()
	if np == nil {
		return
	}
	if s.episode == nil {
		np.Clear()
		return
	}
	state := mediakeys.Playing
	if s.paused {
		state = mediakeys.Paused
	}
	ep, podcast := *s.episode, *s.podcast
	np.Update(ep.ID, func() mediakeys.Metadata {
		cover := podcast.ImageURL
		if cover == "" && c.cover != nil {
			cover = c.cover(ep)
		}
		return mediakeys.Metadata{
			Title:    ep.Title,
			Artist:   podcast.Name,
			CoverURL: cover,
			Duration: time.Duration(ep.Length) * time.Second,
		}
	}, mediakeys.Playback{State: state, Position: time.Duration(elapsedMs) * time.Millisecond})
}
