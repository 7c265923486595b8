package artwork

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podplayer/internal/media"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestSquare_CropsWideImage(t *testing.T) {
	out, err := Square(bytes.NewReader(encodePNG(t, 200, 100)), MaxSize)
	if err != nil {
		t.Fatalf("Square() error = %v", err)
	}
	if w, h := decodeSize(t, out); w != 100 || h != 100 {
		t.Fatalf("size = %dx%d, want 100x100", w, h)
	}

	img, _ := png.Decode(bytes.NewReader(out))
	// centre crop starts at x=50
	r, _, _, _ := img.At(0, 0).RGBA()
	if uint8(r>>8) != 50 {
		t.Fatalf("left edge red = %d, want 50", uint8(r>>8))
	}
}

func TestSquare_ScalesDown(t *testing.T) {
	out, err := Square(bytes.NewReader(encodePNG(t, 300, 400)), 64)
	if err != nil {
		t.Fatalf("Square() error = %v", err)
	}
	if w, h := decodeSize(t, out); w != 64 || h != 64 {
		t.Fatalf("size = %dx%d, want 64x64", w, h)
	}
}

func TestSquare_InvalidImage(t *testing.T) {
	if _, err := Square(strings.NewReader("not an image"), MaxSize); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCache_CoverURL(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)

	url, err := c.CoverURL(5, media.Tags{Picture: encodePNG(t, 40, 30), PictureMIME: "image/png"})
	if err != nil {
		t.Fatalf("CoverURL() error = %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "episode-5.png") {
		t.Fatalf("CoverURL() = %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "episode-5.png")); err != nil {
		t.Fatalf("cover not written: %v", err)
	}

	// cached file is reused without a picture
	again, err := c.CoverURL(5, media.Tags{})
	if err != nil || again != url {
		t.Fatalf("CoverURL() second call = %q, %v", again, err)
	}
}

func TestCache_NoPicture(t *testing.T) {
	c := NewCache(t.TempDir())
	if _, err := c.CoverURL(9, media.Tags{}); !errors.Is(err, ErrNoPicture) {
		t.Fatalf("CoverURL() error = %v, want ErrNoPicture", err)
	}

	var nilCache *Cache
	if _, err := nilCache.CoverURL(1, media.Tags{}); err == nil {
		t.Fatal("expected error from nil cache")
	}
}
