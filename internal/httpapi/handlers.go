package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"podplayer/internal/events"
	"podplayer/internal/models"
	"podplayer/internal/player"
	"podplayer/internal/storage"
	"podplayer/pkg/audiospec"
)

type handlers struct {
	player  Player
	catalog Catalog
	emit    events.Emitter
	log     *zap.Logger
	now     func() time.Time
}

type playReq struct {
	EpisodeID    int64 `json:"episodeId"`
	StartSeconds int64 `json:"startSeconds"`
}

type seekReq struct {
	Seconds int64 `json:"seconds"`
}

type volumeReq struct {
	Volume float64 `json:"volume"`
}

type speedReq struct {
	Speed float64 `json:"speed"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "INVALID_BODY", "invalid JSON body", RequestIDFromContext(r.Context()), nil)
		return false
	}
	return true
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, _ := h.player.LatestStatus()
	WriteJSON(w, http.StatusOK, st)
}

func (h *handlers) episodes(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())
	if h.catalog == nil {
		NotFound(w, "NO_CATALOG", "episode listing unavailable", rid)
		return
	}
	var podcastID int64
	if q := r.URL.Query().Get("podcastId"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			BadRequest(w, "INVALID_PODCAST_ID", "podcastId must be an integer", rid, nil)
			return
		}
		podcastID = id
	}
	eps, err := h.catalog.ListEpisodes(podcastID)
	if err != nil {
		h.log.Error("list episodes", zap.Error(err), zap.String("request_id", rid))
		Internal(w, rid)
		return
	}
	if eps == nil {
		eps = []models.Episode{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"episodes": eps})
}

func (h *handlers) play(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())
	var req playReq
	if !decode(w, r, &req) {
		return
	}
	if req.EpisodeID <= 0 || req.StartSeconds < 0 {
		BadRequest(w, "INVALID_ARGUMENT", "episodeId must be positive and startSeconds not negative", rid, nil)
		return
	}

	err := h.player.PlayEpisodeByID(req.EpisodeID, req.StartSeconds)
	switch {
	case err == nil:
		st, _ := h.player.LatestStatus()
		WriteJSON(w, http.StatusOK, st)
	case errors.Is(err, storage.ErrNotFound):
		NotFound(w, "EPISODE_NOT_FOUND", err.Error(), rid)
	case errors.Is(err, player.ErrNoLocalFile):
		Conflict(w, "NO_LOCAL_FILE", "episode has not been downloaded", rid, map[string]any{"episodeId": req.EpisodeID})
	default:
		h.log.Error("play episode", zap.Int64("episode", req.EpisodeID), zap.Error(err), zap.String("request_id", rid))
		Internal(w, rid)
	}
}

// transport wraps an argument-free player command.
func (h *handlers) transport(fn func(Player)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(h.player)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) seek(w http.ResponseWriter, r *http.Request) {
	var req seekReq
	if !decode(w, r, &req) {
		return
	}
	if req.Seconds < 0 {
		BadRequest(w, "INVALID_ARGUMENT", "seconds must not be negative", RequestIDFromContext(r.Context()), nil)
		return
	}
	h.player.SeekTo(req.Seconds)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) volume(w http.ResponseWriter, r *http.Request) {
	var req volumeReq
	if !decode(w, r, &req) {
		return
	}
	if math.IsNaN(req.Volume) || req.Volume < 0 || req.Volume > 1 {
		BadRequest(w, "INVALID_ARGUMENT", "volume must be within 0..1", RequestIDFromContext(r.Context()), nil)
		return
	}
	h.player.SetVolume(req.Volume)
	WriteJSON(w, http.StatusOK, volumeReq{Volume: h.player.Volume()})
}

func (h *handlers) speed(w http.ResponseWriter, r *http.Request) {
	var req speedReq
	if !decode(w, r, &req) {
		return
	}
	if !(req.Speed > 0) {
		BadRequest(w, "INVALID_ARGUMENT", "speed must be positive", RequestIDFromContext(r.Context()), nil)
		return
	}
	h.player.SetPlaybackSpeed(req.Speed)
	WriteJSON(w, http.StatusOK, speedReq{Speed: h.player.PlaybackSpeed()})
}

func (h *handlers) lastPlayed(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())
	if h.catalog == nil {
		NotFound(w, "NO_CATALOG", "episode listing unavailable", rid)
		return
	}
	ep, prog, err := h.catalog.FindLastPlayed()
	if errors.Is(err, storage.ErrNotFound) {
		NotFound(w, "NOTHING_PLAYED", "no episode in progress", rid)
		return
	}
	if err != nil {
		h.log.Error("last played", zap.Error(err), zap.String("request_id", rid))
		Internal(w, rid)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"episode": ep, "progress": prog})
}

// markComplete sets or clears the completed flag and invalidates the
// episode and its progress.
func (h *handlers) markComplete(completed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())
		id, err := strconv.ParseInt(chi.URLParam(r, "episode_id"), 10, 64)
		if err != nil || id <= 0 {
			BadRequest(w, "INVALID_EPISODE_ID", "episode_id must be a positive integer", rid, nil)
			return
		}
		if h.catalog == nil {
			NotFound(w, "NO_CATALOG", "episode listing unavailable", rid)
			return
		}
		mark := h.catalog.MarkNotComplete
		if completed {
			mark = h.catalog.MarkComplete
		}
		prog, err := mark(id, h.now())
		switch {
		case errors.Is(err, storage.ErrNotFound):
			NotFound(w, "EPISODE_NOT_FOUND", err.Error(), rid)
			return
		case err != nil:
			h.log.Error("mark episode", zap.Int64("episode", id), zap.Bool("completed", completed), zap.Error(err), zap.String("request_id", rid))
			Internal(w, rid)
			return
		}
		h.invalidate(models.EpisodeChanged(id), models.ProgressChanged(prog.ID))
		WriteJSON(w, http.StatusOK, prog)
	}
}

func (h *handlers) invalidate(changes ...models.EntityChange) {
	if h.emit == nil {
		return
	}
	for _, ch := range changes {
		for _, key := range ch.CacheKeys() {
			if err := h.emit.Emit(audiospec.EventInvalidateCache, key); err != nil {
				h.log.Debug("invalidate emit failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
