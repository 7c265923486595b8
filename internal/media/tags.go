package media

import (
	"errors"
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

type Tags struct {
	Title       string
	Artist      string
	Album       string
	Format      string
	Picture     []byte
	PictureMIME string
}

// ReadTags reads embedded metadata. Files without tags yield empty Tags.
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return Tags{}, nil
	}
	if err != nil {
		return Tags{}, fmt.Errorf("tags %s: %w", path, err)
	}

	t := Tags{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Format: string(m.Format()),
	}
	if pic := m.Picture(); pic != nil {
		t.Picture = pic.Data
		t.PictureMIME = pic.MIMEType
	}
	return t, nil
}
