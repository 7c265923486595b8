// Package mediakeys bridges OS media-control events to the playback controller
// and pushes now-playing metadata back to the OS.
package mediakeys

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Kind int

const (
	KindPlay Kind = iota
	KindPause
	KindToggle
	KindNext
	KindPrevious
	KindStop
	KindSkipForward
	KindSkipBackward
	KindSeek
	KindSeekBy
	KindSetPosition
	KindOpenURI
	KindRaise
	KindQuit
)

var kindNames = [...]string{
	"Play", "Pause", "Toggle", "Next", "Previous", "Stop", "SkipForward",
	"SkipBackward", "Seek", "SeekBy", "SetPosition", "OpenURI", "Raise", "Quit",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

// Event is one transport request from the OS. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind      Kind
	Direction Direction
	Delta     time.Duration
	Position  time.Duration
	URI       string
}

// Transport is the subset of the playback controller driven by media keys.
type Transport interface {
	Play()
	Pause()
	// TogglePause flips the paused state in one step.
	TogglePause()
	SkipForwards()
	SkipBackwards()
	SeekTo(seconds int64)
	ElapsedSeconds() int64
}

// Hooks receives the events that belong to window management.
type Hooks struct {
	Raise func()
	Quit  func()
}

// Dispatch applies ev to t. Relative requests are turned into absolute seek
// targets from the current elapsed time.
func Dispatch(t Transport, ev Event, hooks Hooks) {
	switch ev.Kind {
	case KindPlay:
		t.Play()
	case KindPause:
		t.Pause()
	case KindToggle:
		t.TogglePause()
	case KindNext:
		t.SkipForwards()
	case KindPrevious:
		t.SkipBackwards()
	case KindSkipForward:
		t.SeekTo(t.ElapsedSeconds() + wholeSeconds(ev.Delta))
	case KindSkipBackward:
		t.SeekTo(t.ElapsedSeconds() - wholeSeconds(ev.Delta))
	case KindSeek:
		if ev.Direction == Forward {
			t.SkipForwards()
		} else {
			t.SkipBackwards()
		}
	case KindSeekBy:
		delta := wholeSeconds(ev.Delta)
		if ev.Direction == Backward {
			delta = -delta
		}
		t.SeekTo(t.ElapsedSeconds() + delta)
	case KindSetPosition:
		t.SeekTo(wholeSeconds(ev.Position))
	case KindRaise:
		if hooks.Raise != nil {
			hooks.Raise()
		}
	case KindQuit:
		if hooks.Quit != nil {
			hooks.Quit()
		}
	case KindStop, KindOpenURI:
		// no queue and no stream support
	}
}

func wholeSeconds(d time.Duration) int64 {
	if d < 0 {
		d = -d
	}
	return int64(d / time.Second)
}

type Metadata struct {
	TrackID  int64
	Title    string
	Album    string
	Artist   string
	CoverURL string
	Duration time.Duration
}

type State int

const (
	Stopped State = iota
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

type Playback struct {
	State    State
	Position time.Duration
}

// Controls is one OS media-control surface.
type Controls interface {
	Attach(handler func(Event)) error
	SetMetadata(Metadata) error
	SetPlayback(Playback) error
	Close() error
}

type Config struct {
	DBusName    string
	DisplayName string
	// Window is the native window handle on platforms that need one.
	Window uintptr
}

type Factory func(Config) (Controls, error)

// NowPlaying pushes state to Controls, re-sending metadata only when the
// episode changes.
type NowPlaying struct {
	mu       sync.Mutex
	controls Controls
	lastID   int64
	log      *zap.Logger
}

func NewNowPlaying(c Controls, log *zap.Logger) *NowPlaying {
	if log == nil {
		log = zap.NewNop()
	}
	return &NowPlaying{controls: c, log: log}
}

// Update sends metadata (built lazily) when episodeID differs from the last
// pushed one, then the playback state.
func (n *NowPlaying) Update(episodeID int64, meta func() Metadata, pb Playback) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.controls == nil {
		return
	}
	if episodeID != n.lastID {
		n.lastID = episodeID
		m := meta()
		if m.TrackID == 0 {
			m.TrackID = episodeID
		}
		if err := n.controls.SetMetadata(m); err != nil {
			n.log.Debug("mediakeys: set metadata", zap.Error(err))
		}
	}
	if err := n.controls.SetPlayback(pb); err != nil {
		n.log.Debug("mediakeys: set playback", zap.Error(err))
	}
}

// Clear reports that nothing is playing.
func (n *NowPlaying) Clear() {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.controls == nil {
		return
	}
	n.lastID = 0
	_ = n.controls.SetMetadata(Metadata{})
	_ = n.controls.SetPlayback(Playback{State: Stopped})
}

// Close releases the controls. Later updates are dropped.
func (n *NowPlaying) Close() error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.controls == nil {
		return nil
	}
	err := n.controls.Close()
	n.controls = nil
	return err
}
