/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the Podplayer project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"podplayer/internal/artwork"
	"podplayer/internal/config"
	"podplayer/internal/events"
	"podplayer/internal/httpapi"
	"podplayer/internal/ipc"
	"podplayer/internal/logging"
	"podplayer/internal/media"
	"podplayer/internal/mediakeys"
	"podplayer/internal/models"
	"podplayer/internal/output"
	"podplayer/internal/player"
	"podplayer/internal/storage"
	"podplayer/pkg/audiospec"
)

const (
	version_major = audiospec.VersionMajor
	version_minor = audiospec.VersionMinor
	server_name   = "Podplayer-Server"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath(), "config file")
	resume := flag.Bool("resume", false, "load the last played episode paused")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting", zap.String("name", server_name), zap.String("version", fmt.Sprintf("%d.%d", version_major, version_minor)))
	if err := run(cfg, *resume, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, resume bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ===============================
	// Library
	// ===============================
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.Open(cfg.Database.Path, storage.Options{
		BusyTimeout: time.Duration(cfg.Database.BusyTimeout) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// ===============================
	// Events
	// ===============================
	hub := events.NewHub()
	emit := events.Multi{hub}
	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(events.NATSOptions{URL: cfg.NATS.URL})
		if err != nil {
			log.Warn("nats unavailable, events stay local", zap.Error(err))
		} else {
			defer nc.Drain()
			emit = append(emit, events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, log))
			log.Info("mirroring events to nats", zap.String("url", cfg.NATS.URL))
		}
	}

	// ===============================
	// Player
	// ===============================
	opener, err := output.NewOpener(cfg.Output.Backend, cfg.Output.BufferMs, log)
	if err != nil {
		return err
	}
	covers := artwork.NewCache(cfg.Artwork.CacheDir)

	opts := player.Options{
		Library:       store,
		Emitter:       emit,
		Opener:        opener,
		Prober:        media.Probe,
		DurationOf:    media.Duration,
		Logger:        log,
		Volume:        cfg.Player.Volume,
		PlaybackSpeed: cfg.Player.PlaybackSpeed,
		Cover:         embeddedCover(covers, log),
		Hooks: mediakeys.Hooks{
			Raise: func() { log.Info("raise requested; no window to raise") },
			Quit:  stop,
		},
	}
	if cfg.MediaKeys.Enabled {
		opts.Controls = mediakeys.NewMPRISFactory(log)
		opts.ControlsConfig = mediakeys.Config{
			DBusName:    cfg.MediaKeys.DBusName,
			DisplayName: cfg.MediaKeys.DisplayName,
		}
	}
	ctl, err := player.New(opts)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	if cfg.MediaKeys.Enabled {
		if err := ctl.SetUpMediaControls(0); err != nil {
			log.Warn("media keys disabled", zap.Error(err))
		}
	}

	if resume {
		resumeLastPlayed(store, ctl, log)
	}

	// ===============================
	// Surfaces
	// ===============================
	errCh := make(chan error, 2)

	sock := ipc.New(ipc.Options{Player: ctl, Catalog: store, Hub: hub, Emitter: emit, Logger: log})
	go func() {
		if err := sock.ListenAndServe(ctx, cfg.IPC.Socket); err != nil {
			errCh <- fmt.Errorf("ipc: %w", err)
		}
	}()

	var srv *httpapi.Server
	if cfg.HTTP.Addr != "" {
		router := httpapi.NewRouter(httpapi.Options{Player: ctl, Catalog: store, Hub: hub, Emitter: emit, Logger: log})
		srv = httpapi.NewServer(cfg.HTTP.Addr, router)
		go func() {
			if err := srv.Start(log); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-errCh:
	}

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	return err
}

// embeddedCover renders the episode's embedded picture into the artwork
// cache for media controls when the podcast has no image URL.
func embeddedCover(cache *artwork.Cache, log *zap.Logger) player.CoverFunc {
	return func(ep models.Episode) string {
		tags, err := media.ReadTags(ep.ContentLocalPath)
		if err != nil {
			log.Debug("read tags for cover", zap.Int64("episode", ep.ID), zap.Error(err))
			return ""
		}
		u, err := cache.CoverURL(ep.ID, tags)
		if err != nil {
			if !errors.Is(err, artwork.ErrNoPicture) {
				log.Debug("render cover", zap.Int64("episode", ep.ID), zap.Error(err))
			}
			return ""
		}
		return u
	}
}

func resumeLastPlayed(store *storage.Store, ctl *player.Controller, log *zap.Logger) {
	ep, prog, err := store.FindLastPlayed()
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("last played lookup failed", zap.Error(err))
		return
	}
	if err := ctl.LoadEpisode(ep, prog.ListenedSeconds); err != nil {
		log.Warn("resume failed", zap.Int64("episode", ep.ID), zap.Error(err))
		return
	}
	log.Info("resumed last played episode", zap.Int64("episode", ep.ID), zap.Int64("at", prog.ListenedSeconds))
}
