package mediakeys

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"go.uber.org/zap"
)

const (
	mprisPath   dbus.ObjectPath = "/org/mpris/MediaPlayer2"
	rootIface                   = "org.mpris.MediaPlayer2"
	playerIface                 = "org.mpris.MediaPlayer2.Player"
	busPrefix                   = "org.mpris.MediaPlayer2."

	// Position jumps larger than this between two updates are announced
	// with the Seeked signal.
	seekedTolerance = 1500 * time.Millisecond
)

// MPRIS exposes the player on the D-Bus session bus.
type MPRIS struct {
	conn    *dbus.Conn
	props   *prop.Properties
	busName string
	log     *zap.Logger

	mu       sync.RWMutex
	handler  func(Event)
	trackID  dbus.ObjectPath
	lastPos  time.Duration
	lastAt   time.Time
	lastPlay bool
}

// NewMPRISFactory returns a Factory that connects to the session bus.
func NewMPRISFactory(log *zap.Logger) Factory {
	return func(cfg Config) (Controls, error) {
		return NewMPRIS(cfg, log)
	}
}

func NewMPRIS(cfg Config, log *zap.Logger) (*MPRIS, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DBusName == "" {
		cfg.DBusName = "podplayer"
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Podplayer"
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("mpris: session bus: %w", err)
	}
	m := &MPRIS{conn: conn, busName: busPrefix + cfg.DBusName, log: log, trackID: noTrack}

	if err := m.export(cfg); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(m.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mpris: request name %s: %w", m.busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("mpris: name %s already taken", m.busName)
	}
	log.Debug("mpris: registered", zap.String("name", m.busName))
	return m, nil
}

const noTrack dbus.ObjectPath = "/org/mpris/MediaPlayer2/TrackList/NoTrack"

func (m *MPRIS) export(cfg Config) error {
	root := mprisRoot{m}
	player := mprisPlayer{m}

	if err := m.conn.Export(root, mprisPath, rootIface); err != nil {
		return fmt.Errorf("mpris: export root: %w", err)
	}
	if err := m.conn.Export(player, mprisPath, playerIface); err != nil {
		return fmt.Errorf("mpris: export player: %w", err)
	}

	props, err := prop.Export(m.conn, mprisPath, prop.Map{
		rootIface: {
			"CanQuit":             {Value: true, Emit: prop.EmitTrue},
			"CanRaise":            {Value: true, Emit: prop.EmitTrue},
			"HasTrackList":        {Value: false, Emit: prop.EmitTrue},
			"Identity":            {Value: cfg.DisplayName, Emit: prop.EmitTrue},
			"SupportedUriSchemes": {Value: []string{}, Emit: prop.EmitTrue},
			"SupportedMimeTypes":  {Value: []string{}, Emit: prop.EmitTrue},
		},
		playerIface: {
			"PlaybackStatus": {Value: Stopped.String(), Emit: prop.EmitTrue},
			"Rate":           {Value: 1.0, Emit: prop.EmitTrue},
			"MinimumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"MaximumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"Metadata":       {Value: metadataMap(Metadata{}, noTrack), Emit: prop.EmitTrue},
			"Volume":         {Value: 1.0, Emit: prop.EmitTrue},
			"Position":       {Value: int64(0), Emit: prop.EmitFalse},
			"CanGoNext":      {Value: true, Emit: prop.EmitTrue},
			"CanGoPrevious":  {Value: true, Emit: prop.EmitTrue},
			"CanPlay":        {Value: true, Emit: prop.EmitTrue},
			"CanPause":       {Value: true, Emit: prop.EmitTrue},
			"CanSeek":        {Value: true, Emit: prop.EmitTrue},
			"CanControl":     {Value: true, Emit: prop.EmitFalse},
		},
	})
	if err != nil {
		return fmt.Errorf("mpris: export properties: %w", err)
	}
	m.props = props

	node := &introspect.Node{
		Name: string(mprisPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       rootIface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(rootIface),
			},
			{
				Name:       playerIface,
				Methods:    introspect.Methods(player),
				Properties: props.Introspection(playerIface),
				Signals: []introspect.Signal{
					{Name: "Seeked", Args: []introspect.Arg{{Name: "Position", Type: "x"}}},
				},
			},
		},
	}
	if err := m.conn.Export(introspect.NewIntrospectable(node), mprisPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("mpris: export introspection: %w", err)
	}
	return nil
}

func (m *MPRIS) Attach(handler func(Event)) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *MPRIS) dispatch(ev Event) {
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	m.log.Debug("mpris: event", zap.Stringer("kind", ev.Kind))
	if h != nil {
		h(ev)
	}
}

func (m *MPRIS) SetMetadata(meta Metadata) error {
	track := noTrack
	if meta.TrackID > 0 {
		track = dbus.ObjectPath(fmt.Sprintf("/org/podplayer/episode/%d", meta.TrackID))
	}
	m.mu.Lock()
	m.trackID = track
	m.mu.Unlock()
	m.props.SetMust(playerIface, "Metadata", metadataMap(meta, track))
	return nil
}

func (m *MPRIS) SetPlayback(pb Playback) error {
	now := time.Now()
	m.mu.Lock()
	expected := m.lastPos
	if m.lastPlay && !m.lastAt.IsZero() {
		expected += now.Sub(m.lastAt)
	}
	jumped := !m.lastAt.IsZero() && absDuration(pb.Position-expected) > seekedTolerance
	m.lastPos, m.lastAt, m.lastPlay = pb.Position, now, pb.State == Playing
	m.mu.Unlock()

	micros := pb.Position.Microseconds()
	m.props.SetMust(playerIface, "Position", micros)
	m.props.SetMust(playerIface, "PlaybackStatus", pb.State.String())
	if jumped {
		return m.conn.Emit(mprisPath, playerIface+".Seeked", micros)
	}
	return nil
}

func (m *MPRIS) Close() error {
	_, _ = m.conn.ReleaseName(m.busName)
	return m.conn.Close()
}

func metadataMap(meta Metadata, track dbus.ObjectPath) map[string]dbus.Variant {
	out := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(track),
	}
	if meta.Title != "" {
		out["xesam:title"] = dbus.MakeVariant(meta.Title)
	}
	if meta.Artist != "" {
		out["xesam:artist"] = dbus.MakeVariant([]string{meta.Artist})
	}
	if meta.Album != "" {
		out["xesam:album"] = dbus.MakeVariant(meta.Album)
	}
	if meta.CoverURL != "" {
		out["mpris:artUrl"] = dbus.MakeVariant(meta.CoverURL)
	}
	if meta.Duration > 0 {
		out["mpris:length"] = dbus.MakeVariant(meta.Duration.Microseconds())
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// === org.mpris.MediaPlayer2 ===

type mprisRoot struct{ m *MPRIS }

func (r mprisRoot) Raise() *dbus.Error {
	r.m.dispatch(Event{Kind: KindRaise})
	return nil
}

func (r mprisRoot) Quit() *dbus.Error {
	r.m.dispatch(Event{Kind: KindQuit})
	return nil
}

// === org.mpris.MediaPlayer2.Player ===

type mprisPlayer struct{ m *MPRIS }

func (p mprisPlayer) Next() *dbus.Error {
	p.m.dispatch(Event{Kind: KindNext})
	return nil
}

func (p mprisPlayer) Previous() *dbus.Error {
	p.m.dispatch(Event{Kind: KindPrevious})
	return nil
}

func (p mprisPlayer) Pause() *dbus.Error {
	p.m.dispatch(Event{Kind: KindPause})
	return nil
}

func (p mprisPlayer) PlayPause() *dbus.Error {
	p.m.dispatch(Event{Kind: KindToggle})
	return nil
}

func (p mprisPlayer) Stop() *dbus.Error {
	p.m.dispatch(Event{Kind: KindStop})
	return nil
}

func (p mprisPlayer) Play() *dbus.Error {
	p.m.dispatch(Event{Kind: KindPlay})
	return nil
}

// Seek offset is in microseconds, negative is backwards.
func (p mprisPlayer) Seek(offset int64) *dbus.Error {
	p.m.dispatch(seekEvent(offset))
	return nil
}

func (p mprisPlayer) SetPosition(track dbus.ObjectPath, position int64) *dbus.Error {
	p.m.mu.RLock()
	current := p.m.trackID
	p.m.mu.RUnlock()
	// stale requests for a previous track are ignored
	if track != current || position < 0 {
		return nil
	}
	p.m.dispatch(Event{Kind: KindSetPosition, Position: time.Duration(position) * time.Microsecond})
	return nil
}

func (p mprisPlayer) OpenUri(uri string) *dbus.Error {
	p.m.dispatch(Event{Kind: KindOpenURI, URI: uri})
	return nil
}

func seekEvent(offsetMicros int64) Event {
	ev := Event{Kind: KindSeekBy, Direction: Forward}
	if offsetMicros < 0 {
		ev.Direction = Backward
		offsetMicros = -offsetMicros
	}
	ev.Delta = time.Duration(offsetMicros) * time.Microsecond
	return ev
}
