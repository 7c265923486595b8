package player

import (
	"errors"
	"io"
	"runtime"
	"time"

	"go.uber.org/zap"

	"podplayer/internal/media"
	"podplayer/internal/output"
	"podplayer/pkg/audioengine"
)

type op int

const (
	opStop op = iota
	opPause
	opResume
	opSeek
)

type command struct {
	op      op
	seconds int64
}

// renderHandle is the owner's end of one render goroutine.
type renderHandle struct {
	cmds chan command
	done chan struct{}
}

func newRenderHandle() *renderHandle {
	return &renderHandle{
		cmds: make(chan command, 16),
		done: make(chan struct{}),
	}
}

// send delivers cmd unless the goroutine already exited.
func (h *renderHandle) send(cmd command) {
	select {
	case h.cmds <- cmd:
	case <-h.done:
	}
}

func (c *Controller) render(h *renderHandle, reader media.FormatReader, start int64, paused bool, gen uint64) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)

	stopped := c.renderLoop(h, reader, start, paused)
	if err := reader.Close(); err != nil {
		c.log.Debug("reader close", zap.Error(err))
	}
	if stopped {
		c.log.Debug("render stopped", zap.Uint64("generation", gen))
		return
	}

	// end of stream: save the final position, then return the UI to idle
	c.broadcast(true, false)
	if c.clearSession(gen) {
		c.broadcast(true, false)
	}
	c.log.Debug("render finished", zap.Uint64("generation", gen))
}

// renderLoop decodes and plays until the stream ends (false) or Stop
// arrives (true).
func (c *Controller) renderLoop(h *renderHandle, reader media.FormatReader, start int64, paused bool) bool {
	trackID, ok := media.SelectTrack(reader)
	if !ok {
		c.log.Info("no playable track")
		return false
	}
	seekTS, trackID := media.SeekTimestamp(reader, trackID, start, c.log)
	track, ok := media.FindTrack(reader, trackID)
	if !ok {
		return false
	}
	dec, err := media.NewDecoder(track)
	if err != nil {
		c.log.Error("decoder", zap.Stringer("codec", track.Params.Codec), zap.Error(err))
		return false
	}

	var sink output.Sink
	defer func() {
		if sink != nil {
			if err := sink.Close(); err != nil {
				c.log.Debug("output close", zap.Error(err))
			}
		}
	}()

	saveTimer := time.Now()
	uiTimer := saveTimer
	for {
		// poll one command, never block on the channel
		select {
		case cmd := <-h.cmds:
			switch cmd.op {
			case opStop:
				return true
			case opPause:
				paused = true
			case opResume:
				paused = false
			case opSeek:
				seekTS = c.seek(reader, dec, trackID, cmd.seconds, seekTS)
			}
		default:
		}
		if paused {
			time.Sleep(c.pollInterval)
			continue
		}

		pkt, err := reader.NextPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Error("read packet", zap.Error(err))
			}
			return false
		}
		if pkt.TrackID != trackID {
			continue
		}

		buf, err := dec.Decode(pkt)
		if err != nil {
			var de media.DecodeError
			if errors.As(err, &de) {
				c.log.Warn("decode error", zap.Uint64("ts", pkt.TS), zap.Error(err))
				continue
			}
			c.log.Error("decoder failed", zap.Error(err))
			return false
		}

		if sink == nil {
			ch := max(buf.Format.NumChannels, 1)
			spec := output.Spec{SampleRate: buf.Format.SampleRate, Channels: ch}
			sink, err = c.open(spec, len(buf.Data)/ch)
			if err != nil {
				c.log.Error("open output", zap.Int("rate", spec.SampleRate), zap.Error(err))
				return false
			}
		}

		written := false
		if pkt.TS >= seekTS {
			c.setElapsed(track.TimeOf(pkt.TS))
			audioengine.ApplyGain(buf.Data, float32(c.gain()))
			if err := sink.Write(buf); err != nil {
				c.log.Error("output write", zap.Error(err))
				return false
			}
			written = true
		}

		now := time.Now()
		if now.Sub(saveTimer) > c.saveInterval {
			saveTimer = now
			if written {
				c.analyse(buf.Data, buf.Format.NumChannels)
			}
			c.broadcast(true, false)
		} else if now.Sub(uiTimer) > c.uiInterval {
			uiTimer = now
			if written {
				c.analyse(buf.Data, buf.Format.NumChannels)
			}
			c.broadcast(false, false)
		}
	}
}

// seek returns the new skip-ahead timestamp, or current when the reader
// could not seek.
func (c *Controller) seek(reader media.FormatReader, dec media.Decoder, trackID uint32, seconds int64, current uint64) uint64 {
	to := time.Duration(seconds) * time.Second
	seeked, err := reader.Seek(trackID, to)
	if errors.Is(err, media.ErrResetRequired) {
		if rerr := dec.Reset(); rerr != nil {
			c.log.Warn("decoder reset", zap.Error(rerr))
		}
		seeked, err = reader.Seek(trackID, to)
	}
	if err != nil {
		c.log.Warn("seek failed", zap.Int64("seconds", seconds), zap.Error(err))
		return current
	}
	return seeked.RequiredTS
}

func (c *Controller) setElapsed(d time.Duration) {
	ms := d.Milliseconds()
	c.mu.RLock()
	limit := c.sess.duration * 1000
	c.mu.RUnlock()
	if limit > 0 && ms > limit {
		ms = limit
	}
	c.elapsedMs.Store(max(ms, 0))
}
