package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"podplayer/internal/models"
)

const progressColumns = `id, episode_id, completed, listened_seconds, updated_at`

func scanProgress(row rowScanner) (models.EpisodeProgress, error) {
	var p models.EpisodeProgress
	var completed int
	var updatedAt int64
	if err := row.Scan(&p.ID, &p.EpisodeID, &completed, &p.ListenedSeconds, &updatedAt); err != nil {
		return models.EpisodeProgress{}, err
	}
	p.Completed = completed != 0
	p.UpdatedAt = fromNanos(updatedAt)
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) FindOrCreateProgress(episodeID int64) (models.EpisodeProgress, error) {
	if s == nil || s.db == nil {
		return models.EpisodeProgress{}, fmt.Errorf("storage: missing database connection")
	}
	if _, err := s.db.Exec(`
		INSERT INTO episode_progress (episode_id, completed, listened_seconds, updated_at)
		VALUES (?, 0, 0, 0)
		ON CONFLICT(episode_id) DO NOTHING`, episodeID); err != nil {
		return models.EpisodeProgress{}, fmt.Errorf("storage: create progress for episode %d: %w", episodeID, err)
	}
	p, err := scanProgress(s.db.QueryRow(`SELECT `+progressColumns+` FROM episode_progress WHERE episode_id = ?`, episodeID))
	if err != nil {
		return models.EpisodeProgress{}, fmt.Errorf("storage: find progress for episode %d: %w", episodeID, err)
	}
	return p, nil
}

// UpdateProgress writes the listening position only when updatedAt is strictly newer
// than the stored value, compared at nanosecond precision. It reports whether the
// row was changed.
func (s *Store) UpdateProgress(episodeID, listenedSeconds int64, completed bool, updatedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage: missing database connection")
	}
	if listenedSeconds < 0 {
		listenedSeconds = 0
	}
	ts := toNanos(updatedAt)
	res, err := s.db.Exec(`
		UPDATE episode_progress
		SET listened_seconds = ?, completed = ?, updated_at = ?
		WHERE episode_id = ? AND updated_at < ?`,
		listenedSeconds, boolInt(completed), ts, episodeID, ts)
	if err != nil {
		return false, fmt.Errorf("storage: update progress for episode %d: %w", episodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: update progress for episode %d: %w", episodeID, err)
	}
	return n > 0, nil
}

// MarkComplete flags the episode as listened without touching the position.
func (s *Store) MarkComplete(episodeID int64, at time.Time) (models.EpisodeProgress, error) {
	p, err := s.FindOrCreateProgress(episodeID)
	if err != nil {
		return models.EpisodeProgress{}, err
	}
	if _, err := s.UpdateProgress(episodeID, p.ListenedSeconds, true, at); err != nil {
		return models.EpisodeProgress{}, err
	}
	return s.FindOrCreateProgress(episodeID)
}

// MarkNotComplete clears the completed flag and rewinds the position to the start.
func (s *Store) MarkNotComplete(episodeID int64, at time.Time) (models.EpisodeProgress, error) {
	if _, err := s.FindOrCreateProgress(episodeID); err != nil {
		return models.EpisodeProgress{}, err
	}
	if _, err := s.UpdateProgress(episodeID, 0, false, at); err != nil {
		return models.EpisodeProgress{}, err
	}
	return s.FindOrCreateProgress(episodeID)
}

// FindLastPlayed returns the most recently listened episode that is not completed.
func (s *Store) FindLastPlayed() (models.Episode, models.EpisodeProgress, error) {
	if s == nil || s.db == nil {
		return models.Episode{}, models.EpisodeProgress{}, fmt.Errorf("storage: missing database connection")
	}
	row := s.db.QueryRow(`
		SELECT episode_id
		FROM episode_progress
		WHERE completed = 0 AND listened_seconds > 0
		ORDER BY updated_at DESC
		LIMIT 1`)
	var episodeID int64
	if err := row.Scan(&episodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Episode{}, models.EpisodeProgress{}, ErrNotFound
		}
		return models.Episode{}, models.EpisodeProgress{}, fmt.Errorf("storage: find last played: %w", err)
	}
	e, err := s.FindEpisode(episodeID)
	if err != nil {
		return models.Episode{}, models.EpisodeProgress{}, err
	}
	p, err := s.FindOrCreateProgress(episodeID)
	if err != nil {
		return models.Episode{}, models.EpisodeProgress{}, err
	}
	return e, p, nil
}
