// Package ipc serves the podplayer control socket: one command per line,
// one reply line per command. Any client may query; the first client to send
// a control command owns playback until it disconnects and receives
// "EVENT {json}" lines for every player event.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"podplayer/internal/events"
	"podplayer/internal/models"
	"podplayer/internal/player"
	"podplayer/internal/storage"
	"podplayer/pkg/audiospec"
)

// Player is the transport surface driven over the socket.
type Player interface {
	PlayEpisodeByID(id, startSeconds int64) error
	Play()
	Pause()
	TogglePause()
	SeekTo(seconds int64)
	SkipForwards()
	SkipBackwards()
	SetVolume(v float64)
	SetPlaybackSpeed(v float64)
	LatestStatus() (player.PlayerStatus, bool)
}

// Catalog is the library surface behind the episode and progress commands.
type Catalog interface {
	ListEpisodes(podcastID int64) ([]models.Episode, error)
	FindLastPlayed() (models.Episode, models.EpisodeProgress, error)
	MarkComplete(episodeID int64, at time.Time) (models.EpisodeProgress, error)
	MarkNotComplete(episodeID int64, at time.Time) (models.EpisodeProgress, error)
}

type Options struct {
	Player  Player
	Catalog Catalog
	// Hub feeds the owner's EVENT lines.
	Hub *events.Hub
	// Emitter receives cache invalidations; it defaults to Hub.
	Emitter events.Emitter
	Logger  *zap.Logger
	Now     func() time.Time
}

type Server struct {
	player  Player
	catalog Catalog
	hub     *events.Hub
	emit    events.Emitter
	log     *zap.Logger
	now     func() time.Time

	controlMu    sync.Mutex
	controlOwner *conn
	stopEvents   func()

	wg sync.WaitGroup
}

func New(opts Options) *Server {
	s := &Server{
		player:  opts.Player,
		catalog: opts.Catalog,
		hub:     opts.Hub,
		emit:    opts.Emitter,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.emit == nil && s.hub != nil {
		s.emit = s.hub
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// conn serialises writes from the command loop and the event forwarder.
type conn struct {
	net.Conn
	mu sync.Mutex
}

func (c *conn) reply(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.Conn, format+"\n", args...)
	return err
}

// ===============================
// Ownership
// ===============================

func (s *Server) isOwner(c *conn) bool {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	return s.controlOwner == c
}

func (s *Server) claimOwner(c *conn) bool {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if s.controlOwner == nil {
		s.controlOwner = c
		s.startEvents(c)
		return true
	}
	return s.controlOwner == c
}

// releaseOwner pauses playback when its owner goes away.
func (s *Server) releaseOwner(c *conn) {
	s.controlMu.Lock()
	if s.controlOwner != c {
		s.controlMu.Unlock()
		return
	}
	s.controlOwner = nil
	stop := s.stopEvents
	s.stopEvents = nil
	s.controlMu.Unlock()

	if stop != nil {
		stop()
	}
	s.player.Pause()
}

// startEvents forwards hub events to the owner. Callers hold controlMu.
func (s *Server) startEvents(c *conn) {
	if s.hub == nil {
		return
	}
	ch, cancel := s.hub.Subscribe(64)
	s.stopEvents = cancel
	go func() {
		for msg := range ch {
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.reply("EVENT %s", b); err != nil {
				go s.releaseOwner(c)
				return
			}
		}
	}()
}

// ===============================
// Listener
// ===============================

// ListenAndServe replaces any stale socket at path and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	defer os.Remove(path)
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log.Info("ipc listening", zap.String("addr", ln.Addr().String()))

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConn(c)
		}()
	}
}

func argInt(parts []string, idx int) (int64, bool) {
	if len(parts) <= idx {
		return 0, false
	}
	v, err := strconv.ParseInt(parts[idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func argFloat(parts []string, idx int) (float64, bool) {
	if len(parts) <= idx {
		return 0, false
	}
	v, err := strconv.ParseFloat(parts[idx], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ===============================
// Protocol
// ===============================

func (s *Server) HandleConn(nc net.Conn) {
	c := &conn{Conn: nc}
	defer func() {
		s.releaseOwner(c)
		c.Close()
	}()

	sc := bufio.NewScanner(c)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		cmd := strings.ToUpper(args[0])

		if s.query(c, cmd, args) {
			continue
		}

		if !s.claimOwner(c) {
			c.reply("ERR CONTROL_LOCKED")
			continue
		}
		s.control(c, cmd, args)
	}
}

// query answers read-only commands and reports whether cmd was one.
func (s *Server) query(c *conn, cmd string, args []string) bool {
	switch cmd {
	case "ABOUT":
		c.reply("%s V.%d.%d", audiospec.AppName, audiospec.VersionMajor, audiospec.VersionMinor)

	case "PING":
		c.reply("Pong")

	case "WHOAMI":
		if s.isOwner(c) {
			c.reply("OWNER")
		} else {
			c.reply("OBSERVER")
		}

	case "STATUS":
		st, _ := s.player.LatestStatus()
		j, _ := json.Marshal(st)
		c.reply("%s", j)

	case "LIST-EPISODES":
		var podcastID int64
		if len(args) > 1 {
			id, ok := argInt(args, 1)
			if !ok {
				c.reply("ERR ARG")
				return true
			}
			podcastID = id
		}
		if s.catalog == nil {
			c.reply("ERR INTERNAL")
			return true
		}
		eps, err := s.catalog.ListEpisodes(podcastID)
		if err != nil {
			s.log.Warn("ipc: list episodes", zap.Error(err))
			c.reply("ERR INTERNAL")
			return true
		}
		if len(eps) == 0 {
			c.reply("NO EPISODES YET")
			return true
		}
		out := make([]map[string]any, 0, len(eps))
		for _, e := range eps {
			out = append(out, map[string]any{
				"id":        e.ID,
				"podcastId": e.PodcastID,
				"title":     e.Title,
				"length":    e.Length,
				"local":     e.ContentLocalPath != "",
			})
		}
		j, _ := json.Marshal(out)
		c.reply("%s", j)

	case "LAST-PLAYED":
		if s.catalog == nil {
			c.reply("ERR INTERNAL")
			return true
		}
		ep, prog, err := s.catalog.FindLastPlayed()
		if errors.Is(err, storage.ErrNotFound) {
			c.reply("NOTHING PLAYED YET")
			return true
		}
		if err != nil {
			s.log.Warn("ipc: last played", zap.Error(err))
			c.reply("ERR INTERNAL")
			return true
		}
		j, _ := json.Marshal(map[string]any{"episode": ep, "progress": prog})
		c.reply("%s", j)

	default:
		return false
	}
	return true
}

func (s *Server) control(c *conn, cmd string, args []string) {
	switch cmd {
	case "PLAY-EPISODE":
		id, ok := argInt(args, 1)
		if !ok {
			c.reply("ERR ARG")
			return
		}
		var start int64
		if len(args) > 2 {
			if start, ok = argInt(args, 2); !ok || start < 0 {
				c.reply("ERR ARG")
				return
			}
		}
		switch err := s.player.PlayEpisodeByID(id, start); {
		case err == nil:
			c.reply("Episode Playing")
		case errors.Is(err, player.ErrNoLocalFile):
			c.reply("ERR NO_LOCAL_FILE")
		case errors.Is(err, storage.ErrNotFound):
			c.reply("ERR EPISODE_NOT_FOUND")
		default:
			s.log.Warn("ipc: play episode", zap.Int64("episode", id), zap.Error(err))
			c.reply("ERR INTERNAL")
		}

	case "PLAY", "RESUME":
		s.player.Play()
		c.reply("Resume Playing")

	case "PAUSE":
		s.player.Pause()
		c.reply("Paused")

	case "TOGGLE":
		s.player.TogglePause()
		c.reply("Toggled")

	case "SEEK":
		sec, ok := argInt(args, 1)
		if !ok {
			c.reply("ERR ARG")
			return
		}
		s.player.SeekTo(sec)
		c.reply("Seeking")

	case "SKIP-FWD":
		s.player.SkipForwards()
		c.reply("Jump")

	case "SKIP-BACK":
		s.player.SkipBackwards()
		c.reply("Jump Back")

	case "VOLUME":
		v, ok := argFloat(args, 1)
		if !ok || v < 0 || v > 1 {
			c.reply("ERR ARG")
			return
		}
		s.player.SetVolume(v)
		c.reply("OK")

	case "SPEED":
		v, ok := argFloat(args, 1)
		if !ok || v <= 0 {
			c.reply("ERR ARG")
			return
		}
		s.player.SetPlaybackSpeed(v)
		c.reply("OK")

	case "MARK-COMPLETE", "MARK-UNPLAYED":
		id, ok := argInt(args, 1)
		if !ok {
			c.reply("ERR ARG")
			return
		}
		if s.catalog == nil {
			c.reply("ERR INTERNAL")
			return
		}
		mark := s.catalog.MarkComplete
		if cmd == "MARK-UNPLAYED" {
			mark = s.catalog.MarkNotComplete
		}
		prog, err := mark(id, s.now())
		if err != nil {
			s.log.Warn("ipc: mark episode", zap.Int64("episode", id), zap.String("cmd", cmd), zap.Error(err))
			c.reply("ERR INTERNAL")
			return
		}
		s.invalidate(models.EpisodeChanged(id), models.ProgressChanged(prog.ID))
		c.reply("Marked")

	default:
		c.reply("ERR UNKNOWN")
	}
}

func (s *Server) invalidate(changes ...models.EntityChange) {
	if s.emit == nil {
		return
	}
	for _, ch := range changes {
		for _, key := range ch.CacheKeys() {
			if err := s.emit.Emit(audiospec.EventInvalidateCache, key); err != nil {
				s.log.Debug("ipc: invalidate emit failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
