/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the Podplayer project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"podplayer/internal/events"
	"podplayer/internal/logging"
	"podplayer/internal/models"
	"podplayer/internal/output"
	"podplayer/internal/player"
	"podplayer/internal/storage"
)

const (
	version_minor = 0
	version_major = 1
	app_name      = "Podplayer Debug Tools"
	general_usage = "Usage: ./podplayer-debug [-null] [-start <sec>] <audio file>"
)

// memLibrary keeps one episode and its progress in memory.
type memLibrary struct {
	mu       sync.Mutex
	podcast  models.Podcast
	episode  models.Episode
	progress models.EpisodeProgress
}

func (l *memLibrary) FindEpisode(id int64) (models.Episode, error) {
	if id != l.episode.ID {
		return models.Episode{}, fmt.Errorf("episode %d: %w", id, storage.ErrNotFound)
	}
	return l.episode, nil
}

func (l *memLibrary) FindPodcast(id int64) (models.Podcast, error) {
	if id != l.podcast.ID {
		return models.Podcast{}, fmt.Errorf("podcast %d: %w", id, storage.ErrNotFound)
	}
	return l.podcast, nil
}

func (l *memLibrary) FindOrCreateProgress(episodeID int64) (models.EpisodeProgress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.progress.ID == 0 {
		l.progress = models.EpisodeProgress{ID: 1, EpisodeID: episodeID}
	}
	return l.progress, nil
}

func (l *memLibrary) UpdateProgress(episodeID, listened int64, completed bool, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !at.After(l.progress.UpdatedAt) {
		return false, nil
	}
	l.progress.ListenedSeconds = listened
	l.progress.Completed = completed
	l.progress.UpdatedAt = at
	return true, nil
}

func main() {
	/*
		DEBUG-ONLY
	*/
	null := flag.Bool("null", false, "discard audio instead of using the sound card")
	start := flag.Int64("start", 0, "start position in seconds")
	level := flag.String("log", "warn", "log level")
	flag.Parse()

	fmt.Println("========================================")
	fmt.Printf("%s version %d.%d\n", app_name, version_major, version_minor)

	if flag.NArg() < 1 {
		fmt.Printf("\n%s\n", general_usage)
		return
	}
	path, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		fmt.Printf("[!] %v\n", err)
		return
	}

	log, err := logging.New(*level)
	if err != nil {
		fmt.Printf("[!] logger: %v\n", err)
		return
	}
	defer func() { _ = log.Sync() }()

	backend := output.BackendOto
	if *null {
		backend = output.BackendNull
	}
	opener, err := output.NewOpener(backend, 0, log)
	if err != nil {
		fmt.Printf("[!] %v\n", err)
		return
	}

	lib := &memLibrary{
		podcast: models.Podcast{ID: 1, Name: "Local files"},
		episode: models.Episode{
			ID:               1,
			PodcastID:        1,
			ContentLocalPath: path,
			Title:            strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		},
	}
	hub := events.NewHub()
	ctl, err := player.New(player.Options{
		Library: lib,
		Emitter: hub,
		Opener:  opener,
		Logger:  log,
	})
	if err != nil {
		fmt.Printf("[!] %v\n", err)
		return
	}

	defer ctl.Shutdown()

	statuses, cancel := hub.Subscribe(8)
	defer cancel()

	if err := ctl.PlayEpisode(lib.episode, *start); err != nil {
		fmt.Printf("[!] play: %v\n", err)
		return
	}

	final, err := tea.NewProgram(newModel(ctl, statuses, lib.episode.Title)).Run()
	if err != nil {
		fmt.Printf("[!] ui: %v\n", err)
		return
	}
	if m, ok := final.(model); ok && m.finished {
		prog, _ := lib.FindOrCreateProgress(lib.episode.ID)
		log.Info("session ended", zap.Int64("listened", prog.ListenedSeconds), zap.Bool("completed", prog.Completed))
	}
}
