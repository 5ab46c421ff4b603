// Package metrics vends prometheus collectors shared by vtourist components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	TierMemory = "memory"
	TierDisk   = "disk"
)

var FlickrRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vtourist_flickr_requests_total",
	Help: "Total number of requests issued to Flickr",
}, []string{"kind", "outcome"})

var PhotosMaterializedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vtourist_photos_materialized_total",
	Help: "Total number of photo records created from search results",
})

var PhotosSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vtourist_photos_skipped_total",
	Help: "Total number of search results rejected during photo materialization",
})

var ImagesDownloadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vtourist_images_downloaded_total",
	Help: "Total number of image downloads",
}, []string{"outcome"})

var CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vtourist_image_cache_hits_total",
	Help: "Total number of image cache hits per tier",
}, []string{"tier"})

var CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vtourist_image_cache_misses_total",
	Help: "Total number of image cache misses",
})

var ReplacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vtourist_collection_replacements_total",
	Help: "Total number of photo collection replacements",
}, []string{"outcome"})

var FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vtourist_fetch_duration_seconds",
	Help:    "Histogram for the photo fetch pipeline duration in seconds",
	Buckets: []float64{0.5, 1, 2, 5, 10, 30},
}, []string{"outcome"})

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vtourist_http_duration_seconds",
	Help:    "Histogram for the request duration in seconds",
	Buckets: []float64{0.1, 0.5, 1, 2, 5},
}, []string{"handler"})

// Outcome maps a nil-ness check to an outcome label.
func Outcome(failed bool) string {
	if failed {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
