package imagestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// imageExt is the fixed extension for stored images.
	imageExt = ".jpg"
)

var (
	// ErrNoImage is returned when a device has no stored image.
	ErrNoImage = errors.New("imagestore: no image stored")

	// ErrEmptyPayload is returned when a save carries no bytes.
	ErrEmptyPayload = errors.New("imagestore: empty payload")
)

// Store holds one durable image slot per device under a fixed directory.
// A new image replaces any prior one wholesale.
type Store struct {
	dir string
}

// New creates an image store rooted at dir, creating it if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the image bytes for a composite device id, replacing any
// previous image.
func (s *Store) Save(composite string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if err := os.WriteFile(s.path(composite), data, filePermissions); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	return nil
}

// Load returns the stored image bytes for a composite device id.
// Returns ErrNoImage when no image has been stored.
func (s *Store) Load(composite string) ([]byte, error) {
	data, err := os.ReadFile(s.path(composite))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoImage
		}
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// path maps a composite id to its image file. The id is sanitized into a
// flat file name: the user/device separator and anything path-like becomes
// an underscore, so an id can never escape the store directory.
func (s *Store) path(composite string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\', '.':
			return '_'
		}
		return r
	}, composite)
	return filepath.Join(s.dir, sanitized+imageExt)
}
