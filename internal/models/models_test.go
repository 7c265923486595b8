package models

import (
	"reflect"
	"testing"
)

func TestEntityChange_CacheKeys(t *testing.T) {
	cases := []struct {
		change EntityChange
		want   []string
	}{
		{EntityChange{Kind: AllPodcasts}, []string{"allPodcasts", "podcastStats"}},
		{PodcastChanged(3), []string{"podcast-3", "podcastStats"}},
		{EntityChange{Kind: PodcastEpisodes, ID: 4}, []string{"podcast-4", "podcastStats"}},
		{EpisodeChanged(9), []string{"episode-9", "podcastStats"}},
		{ProgressChanged(12), []string{"episodeProgress-12"}},
		{EntityChange{Kind: AllDownloads}, []string{"allDownloads"}},
		{EntityChange{Kind: AllEpisodes}, []string{"allEpisodes"}},
	}
	for _, tc := range cases {
		if got := tc.change.CacheKeys(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("CacheKeys(%+v) = %v, want %v", tc.change, got, tc.want)
		}
	}
}

func TestEntityChange_UnknownKind(t *testing.T) {
	if keys := (EntityChange{Kind: EntityKind(99)}).CacheKeys(); keys != nil {
		t.Fatalf("expected no keys, got %v", keys)
	}
}
