package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"podplayer/internal/models"
)

const podcastColumns = `id, guid, author, local_image_path, image_url, feed_url, name, description, created_at, updated_at`

const episodeColumns = `id, guid, podcast_id, content_local_path, content_url, description, image_local_path, image_url, length, link, episode_date, title`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPodcast(row rowScanner) (models.Podcast, error) {
	var p models.Podcast
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.GUID, &p.Author, &p.LocalImagePath, &p.ImageURL, &p.FeedURL,
		&p.Name, &p.Description, &createdAt, &updatedAt); err != nil {
		return models.Podcast{}, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func scanEpisode(row rowScanner) (models.Episode, error) {
	var e models.Episode
	var episodeDate int64
	if err := row.Scan(&e.ID, &e.GUID, &e.PodcastID, &e.ContentLocalPath, &e.ContentURL, &e.Description,
		&e.ImageLocalPath, &e.ImageURL, &e.Length, &e.Link, &episodeDate, &e.Title); err != nil {
		return models.Episode{}, err
	}
	e.EpisodeDate = fromMillis(episodeDate)
	return e, nil
}

func (s *Store) FindPodcast(id int64) (models.Podcast, error) {
	if s == nil || s.db == nil {
		return models.Podcast{}, fmt.Errorf("storage: missing database connection")
	}
	p, err := scanPodcast(s.db.QueryRow(`SELECT `+podcastColumns+` FROM podcasts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Podcast{}, fmt.Errorf("podcast %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Podcast{}, fmt.Errorf("storage: find podcast %d: %w", id, err)
	}
	return p, nil
}

// SavePodcast inserts or updates a podcast keyed by its GUID and fills in p.ID.
func (s *Store) SavePodcast(p *models.Podcast) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: missing database connection")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err := s.db.QueryRow(`
		INSERT INTO podcasts (guid, author, local_image_path, image_url, feed_url, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			author = excluded.author,
			local_image_path = excluded.local_image_path,
			image_url = excluded.image_url,
			feed_url = excluded.feed_url,
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at
		RETURNING id`,
		p.GUID, p.Author, p.LocalImagePath, p.ImageURL, p.FeedURL, p.Name, p.Description,
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("storage: save podcast %q: %w", p.GUID, err)
	}
	return nil
}

func (s *Store) FindEpisode(id int64) (models.Episode, error) {
	if s == nil || s.db == nil {
		return models.Episode{}, fmt.Errorf("storage: missing database connection")
	}
	e, err := scanEpisode(s.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, fmt.Errorf("episode %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Episode{}, fmt.Errorf("storage: find episode %d: %w", id, err)
	}
	return e, nil
}

// SaveEpisode inserts or updates an episode keyed by its GUID and fills in e.ID.
func (s *Store) SaveEpisode(e *models.Episode) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: missing database connection")
	}
	err := s.db.QueryRow(`
		INSERT INTO episodes (guid, podcast_id, content_local_path, content_url, description, image_local_path, image_url, length, link, episode_date, title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			podcast_id = excluded.podcast_id,
			content_local_path = excluded.content_local_path,
			content_url = excluded.content_url,
			description = excluded.description,
			image_local_path = excluded.image_local_path,
			image_url = excluded.image_url,
			length = excluded.length,
			link = excluded.link,
			episode_date = excluded.episode_date,
			title = excluded.title
		RETURNING id`,
		e.GUID, e.PodcastID, e.ContentLocalPath, e.ContentURL, e.Description, e.ImageLocalPath, e.ImageURL,
		e.Length, e.Link, toMillis(e.EpisodeDate), e.Title,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("storage: save episode %q: %w", e.GUID, err)
	}
	return nil
}

// ListEpisodes returns the episodes of one podcast, newest first. podcastID 0 lists every episode.
func (s *Store) ListEpisodes(podcastID int64) ([]models.Episode, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage: missing database connection")
	}
	query := `SELECT ` + episodeColumns + ` FROM episodes`
	var args []any
	if podcastID != 0 {
		query += ` WHERE podcast_id = ?`
		args = append(args, podcastID)
	}
	query += ` ORDER BY episode_date DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []models.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}
