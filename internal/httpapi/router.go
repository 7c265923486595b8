// Package httpapi exposes the player over REST with a server-sent event
// stream for status and cache invalidation.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"podplayer/internal/events"
	"podplayer/internal/models"
	"podplayer/internal/player"
)

type Player interface {
	PlayEpisodeByID(id, startSeconds int64) error
	Play()
	Pause()
	TogglePause()
	SeekTo(seconds int64)
	SkipForwards()
	SkipBackwards()
	SetVolume(v float64)
	Volume() float64
	SetPlaybackSpeed(v float64)
	PlaybackSpeed() float64
	LatestStatus() (player.PlayerStatus, bool)
}

type Catalog interface {
	ListEpisodes(podcastID int64) ([]models.Episode, error)
	FindLastPlayed() (models.Episode, models.EpisodeProgress, error)
	MarkComplete(episodeID int64, at time.Time) (models.EpisodeProgress, error)
	MarkNotComplete(episodeID int64, at time.Time) (models.EpisodeProgress, error)
}

type Options struct {
	Player  Player
	Catalog Catalog
	Hub     *events.Hub
	// Emitter receives cache invalidations; it defaults to Hub.
	Emitter events.Emitter
	Logger  *zap.Logger
	Now     func() time.Time
	// AllowedOrigins defaults to "*".
	AllowedOrigins []string
}

// NewRouter builds the chi router with request ids, CORS and every route.
func NewRouter(opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Emitter == nil && opts.Hub != nil {
		opts.Emitter = opts.Hub
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware("X-Request-Id"))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	h := &handlers{player: opts.Player, catalog: opts.Catalog, emit: opts.Emitter, log: opts.Logger, now: opts.Now}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/episodes", h.episodes)
		r.Get("/last-played", h.lastPlayed)
		r.Post("/episodes/{episode_id}/complete", h.markComplete(true))
		r.Delete("/episodes/{episode_id}/complete", h.markComplete(false))
		r.Post("/play", h.play)
		r.Post("/resume", h.transport(Player.Play))
		r.Post("/pause", h.transport(Player.Pause))
		r.Post("/toggle", h.transport(Player.TogglePause))
		r.Post("/skip/forward", h.transport(Player.SkipForwards))
		r.Post("/skip/backward", h.transport(Player.SkipBackwards))
		r.Post("/seek", h.seek)
		r.Put("/volume", h.volume)
		r.Put("/speed", h.speed)
		if opts.Hub != nil {
			r.Get("/events", Events(opts.Hub, opts.Logger))
		}
	})
	return r
}
