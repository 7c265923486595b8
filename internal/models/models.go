package models

import (
	"fmt"
	"time"
)

type Podcast struct {
	ID             int64     `json:"id"`
	GUID           string    `json:"guid"`
	Author         string    `json:"author"`
	LocalImagePath string    `json:"localImagePath"`
	ImageURL       string    `json:"imageUrl"`
	FeedURL        string    `json:"feedUrl"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Episode struct {
	ID               int64  `json:"id"`
	GUID             string `json:"guid"`
	PodcastID        int64  `json:"podcastId"`
	ContentLocalPath string `json:"contentLocalPath"`
	ContentURL       string `json:"contentUrl"`
	Description      string `json:"description"`
	ImageLocalPath   string `json:"imageLocalPath"`
	ImageURL         string `json:"imageUrl"`
	// Length is the duration in seconds as announced by the feed.
	Length      int64     `json:"length"`
	Link        string    `json:"link"`
	EpisodeDate time.Time `json:"episodeDate"`
	Title       string    `json:"title"`
}

type EpisodeProgress struct {
	ID              int64     `json:"id"`
	EpisodeID       int64     `json:"episodeId"`
	Completed       bool      `json:"completed"`
	ListenedSeconds int64     `json:"listenedSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ====================================
// Cache invalidation keys
// ====================================

type EntityKind int

const (
	AllPodcasts EntityKind = iota
	PodcastEntity
	PodcastEpisodes
	EpisodeEntity
	EpisodeProgressEntity
	AllDownloads
	AllEpisodes
)

// EntityChange names a record whose cached UI copy is stale.
type EntityChange struct {
	Kind EntityKind
	ID   int64
}

func PodcastChanged(id int64) EntityChange  { return EntityChange{Kind: PodcastEntity, ID: id} }
func EpisodeChanged(id int64) EntityChange  { return EntityChange{Kind: EpisodeEntity, ID: id} }
func ProgressChanged(id int64) EntityChange { return EntityChange{Kind: EpisodeProgressEntity, ID: id} }

// CacheKeys returns the UI cache keys that depend on the changed entity.
func (c EntityChange) CacheKeys() []string {
	switch c.Kind {
	case AllPodcasts:
		return []string{"allPodcasts", "podcastStats"}
	case PodcastEntity, PodcastEpisodes:
		return []string{fmt.Sprintf("podcast-%d", c.ID), "podcastStats"}
	case EpisodeEntity:
		return []string{fmt.Sprintf("episode-%d", c.ID), "podcastStats"}
	case EpisodeProgressEntity:
		return []string{fmt.Sprintf("episodeProgress-%d", c.ID)}
	case AllDownloads:
		return []string{"allDownloads"}
	case AllEpisodes:
		return []string{"allEpisodes"}
	}
	return nil
}
