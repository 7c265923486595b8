// Package artwork turns embedded episode covers into small square PNG files
// that OS media controls can load by URL.
package artwork

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"podplayer/internal/media"
)

// MaxSize is the edge length covers are scaled down to.
const MaxSize = 600

var ErrNoPicture = errors.New("artwork: no embedded picture")

// Square crops the image to a centred square and scales it down to at most
// maxSize pixels per side. The result is PNG encoded.
func Square(r io.Reader, maxSize int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	size := min(w, h)
	if size == 0 {
		return nil, fmt.Errorf("artwork: empty image")
	}

	// titik awal crop di tengah
	origin := image.Point{X: bounds.Min.X + (w-size)/2, Y: bounds.Min.Y + (h-size)/2}
	square := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(square, square.Bounds(), src, origin, draw.Src)

	target := size
	if maxSize > 0 && target > maxSize {
		target = maxSize
	}

	dst := square
	if target != size {
		dst = image.NewRGBA(image.Rect(0, 0, target, target))
		// nearest neighbour
		for y := 0; y < target; y++ {
			sy := y * size / target
			for x := 0; x < target; x++ {
				dst.SetRGBA(x, y, square.RGBAAt(x*size/target, sy))
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Cache writes one cover per episode under Dir.
type Cache struct {
	Dir string

	mu sync.Mutex
}

func NewCache(dir string) *Cache {
	return &Cache{Dir: dir}
}

func (c *Cache) path(episodeID int64) string {
	return filepath.Join(c.Dir, fmt.Sprintf("episode-%d.png", episodeID))
}

// CoverURL returns a file:// URL for the episode cover, rendering it from the
// embedded picture the first time.
func (c *Cache) CoverURL(episodeID int64, tags media.Tags) (string, error) {
	if c == nil || c.Dir == "" {
		return "", fmt.Errorf("artwork: cache directory not set")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.path(episodeID)
	if _, err := os.Stat(p); err == nil {
		return fileURL(p), nil
	}
	if len(tags.Picture) == 0 {
		return "", ErrNoPicture
	}

	data, err := Square(bytes.NewReader(tags.Picture), MaxSize)
	if err != nil {
		return "", fmt.Errorf("artwork: episode %d: %w", episodeID, err)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return fileURL(p), nil
}

func fileURL(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
