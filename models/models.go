package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

/*
 Application layer data models.
*/

// Pin is a saved geographic point of interest. It owns zero or more photos.
type Pin struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	CreationTime time.Time `json:"creationTime"`
}

// NewPin creates a pin at the given coordinate. An empty title falls back to the coordinate string.
func NewPin(title string, lat, lon float64) (*Pin, error) {
	if err := ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	id, err := ksuid.NewRandom()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = CoordinateTitle(lat, lon)
	}
	return &Pin{
		ID:           id.String(),
		Title:        title,
		Latitude:     lat,
		Longitude:    lon,
		CreationTime: time.Now().UTC(),
	}, nil
}

// CoordinateTitle renders a coordinate as a human readable title, e.g. "48.8566, 2.3522"
func CoordinateTitle(lat, lon float64) string {
	return fmt.Sprintf("%v, %v", lat, lon)
}

// ValidateCoordinate checks lat and lon are valid decimal degrees.
func ValidateCoordinate(lat, lon float64) error {
	// NaN fails both comparisons
	if !(lat >= -90 && lat <= 90) {
		return fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if !(lon >= -180 && lon <= 180) {
		return fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

// Photo is the metadata of a single fetched image. Its bytes live in the image cache under FileID.
type Photo struct {
	ID    string `json:"id"`
	PinID string `json:"pinId"`
	Title string `json:"title"`
	// ImagePath is the remote URL of the image. Photos restored from older records may not have one
	ImagePath string `json:"imagePath,omitempty"`
	// FileID is the image cache key, derived from the last segment of ImagePath
	FileID string `json:"fileId,omitempty"`
}

// NewPhoto creates a photo owned by pin p.
func NewPhoto(p *Pin, id, title, imagePath string) *Photo {
	return &Photo{
		ID:        id,
		PinID:     p.ID,
		Title:     title,
		ImagePath: imagePath,
		FileID:    FileIDFromPath(imagePath),
	}
}

// HasImage tells whether the photo's image can be downloaded and cached.
func (p *Photo) HasImage() bool {
	return p.ImagePath != "" && ValidFileID(p.FileID)
}

// TempFileSuffix marks partially written image files.
const TempFileSuffix = ".tmp"

// ValidFileID tells whether id can name a cached image. Such ids are single path segments and never collide with
// partially written files.
func ValidFileID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.ContainsAny(id, `/\`) && !strings.HasSuffix(id, TempFileSuffix)
}

// FileIDFromPath returns the final segment of a remote image path, ignoring query and fragment.
// It returns an empty string if there is no such segment.
func FileIDFromPath(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	i := strings.LastIndex(path, "/")
	seg := path[i+1:]
	if seg == "." || seg == ".." {
		return ""
	}
	return seg
}
