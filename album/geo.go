package album

import (
	"math"
	"math/rand"
	"strconv"
	"strings"

	cst "wuyrush.io/vtourist/constants"
)

const (
	bboxHalfWidth  = 1.0
	bboxHalfHeight = 1.0
)

// BoundingBox returns the search area around (lat, lon) as "minLon,minLat,maxLon,maxLat". The box spans
// bboxHalfWidth/bboxHalfHeight degrees in each direction and is clamped to valid coordinates.
func BoundingBox(lat, lon float64) string {
	minLon := math.Max(lon-bboxHalfWidth, -180)
	minLat := math.Max(lat-bboxHalfHeight, -90)
	maxLon := math.Min(lon+bboxHalfWidth, 180)
	maxLat := math.Min(lat+bboxHalfHeight, 90)
	return strings.Join([]string{
		formatDegree(minLon),
		formatDegree(minLat),
		formatDegree(maxLon),
		formatDegree(maxLat),
	}, ",")
}

// formatDegree renders v with up to 6 decimals (~0.1m), always keeping one, e.g. 179.0 or 47.8566
func formatDegree(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if s == "-0.0" {
		s = "0.0"
	}
	return s
}

// SelectPage picks a page uniformly from [1, min(pages, FlickrMaxPages)]. It returns 0 if there is no page.
func SelectPage(rnd *rand.Rand, pages int) int {
	if pages <= 0 {
		return 0
	}
	if pages > cst.FlickrMaxPages {
		pages = cst.FlickrMaxPages
	}
	return rnd.Intn(pages) + 1
}
