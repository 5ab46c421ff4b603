package models

import (
	"math"
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModels_NewPin(t *testing.T) {
	tcs := []struct {
		name          string
		title         string
		lat, lon      float64
		failed        bool
		expectedTitle string
	}{
		{
			name:          "WithTitle",
			title:         "Paris, France",
			lat:           48.8566,
			lon:           2.3522,
			expectedTitle: "Paris, France",
		},
		{
			name:          "EmptyTitleFallsBackToCoordinate",
			lat:           48.8566,
			lon:           2.3522,
			expectedTitle: "48.8566, 2.3522",
		},
		{
			name:          "BlankTitleFallsBackToCoordinate",
			title:         "   ",
			lat:           -33.5,
			lon:           151,
			expectedTitle: "-33.5, 151",
		},
		{
			name:   "LatitudeOutOfRange",
			lat:    90.5,
			failed: true,
		},
		{
			name:   "LongitudeOutOfRange",
			lon:    -180.01,
			failed: true,
		},
		{
			name:   "NaN",
			lat:    math.NaN(),
			failed: true,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			p, err := NewPin(c.title, c.lat, c.lon)
			if c.failed {
				assert.NotNil(t, err)
				assert.Nil(t, p)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, c.expectedTitle, p.Title)
			assert.Equal(t, c.lat, p.Latitude)
			assert.Equal(t, c.lon, p.Longitude)
			_, perr := ksuid.Parse(p.ID)
			assert.Nil(t, perr, "pin id should be a ksuid")
			assert.False(t, p.CreationTime.IsZero())
		})
	}
}

func TestModels_FileIDFromPath(t *testing.T) {
	tcs := []struct {
		path     string
		expected string
	}{
		{path: "https://farm1.staticflickr.com/2/1418878_1e92283336_m.jpg", expected: "1418878_1e92283336_m.jpg"},
		{path: "https://live.staticflickr.com/65535/123_abc.jpg?zz=1#frag", expected: "123_abc.jpg"},
		{path: "https://example.com/a/b/", expected: "b"},
		{path: "plain.jpg", expected: "plain.jpg"},
		{path: "https://example.com", expected: ""},
		{path: "", expected: ""},
		{path: "https://example.com/..", expected: ""},
	}
	for _, c := range tcs {
		assert.Equal(t, c.expected, FileIDFromPath(c.path), "unexpected file id for %q", c.path)
	}
}

func TestModels_NewPhoto(t *testing.T) {
	pin := &Pin{ID: "0ujsszwN8NRY24YaXiTIE2VWDTS"}
	p := NewPhoto(pin, "1418878", "Eiffel", "https://farm1.staticflickr.com/2/1418878_1e92283336_m.jpg")
	assert.Equal(t, pin.ID, p.PinID)
	assert.Equal(t, "1418878_1e92283336_m.jpg", p.FileID)
	assert.True(t, p.HasImage())

	noImage := &Photo{ID: "1", PinID: pin.ID, Title: "restored"}
	assert.False(t, noImage.HasImage())

	partial := NewPhoto(pin, "2", "partial", "https://live.staticflickr.com/65535/2_secret_m.tmp")
	assert.Equal(t, "2_secret_m.tmp", partial.FileID)
	assert.False(t, partial.HasImage())
	escaped := NewPhoto(pin, "3", "escaped", "https://live.staticflickr.com/65535/a%5C3_secret_m.jpg")
	assert.Equal(t, `a\3_secret_m.jpg`, escaped.FileID)
	assert.False(t, escaped.HasImage())
}

func TestModels_ValidFileID(t *testing.T) {
	tcs := []struct {
		name     string
		id       string
		expected bool
	}{
		{name: "Flickr", id: "1418878_1e92283336_m.jpg", expected: true},
		{name: "NoExtension", id: "plain", expected: true},
		{name: "Empty", id: "", expected: false},
		{name: "Dot", id: ".", expected: false},
		{name: "DotDot", id: "..", expected: false},
		{name: "Slash", id: "a/b.jpg", expected: false},
		{name: "Backslash", id: `a\b.jpg`, expected: false},
		{name: "TempFile", id: "1_m.jpg.tmp", expected: false},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ValidFileID(tc.id))
		})
	}
}
