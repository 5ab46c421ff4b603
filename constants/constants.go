// Package constants vends constants used in various components of vtourist, e.g., env var names
package constants

import "time"

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "VT_VERBOSE"
	EnvDotEnv  = "VT_DOTENV"
	// flickr
	EnvFlickrBaseURL        = "VT_FLICKR_BASE_URL"
	EnvFlickrAPIKey         = "VT_FLICKR_API_KEY"
	EnvFlickrRequestTimeout = "VT_FLICKR_REQUEST_TIMEOUT"
	EnvFlickrRateLimit      = "VT_FLICKR_RATE_LIMIT"
	EnvFlickrRateBurst      = "VT_FLICKR_RATE_BURST"
	EnvImageSizeMaxByte     = "VT_IMAGE_SIZE_MAX_BYTE"
	// image cache
	EnvCacheDir     = "VT_CACHE_DIR"
	EnvCacheMemSize = "VT_CACHE_MEM_SIZE"
	// album
	EnvDownloadPoolSize = "VT_DOWNLOAD_POOL_SIZE"
	// stores
	EnvRedisHost   = "VT_REDIS_HOST"
	EnvRedisPort   = "VT_REDIS_PORT"
	EnvRedisPasswd = "VT_REDIS_PASSWD"
	EnvRedisDB     = "VT_REDIS_DB"
	// server
	EnvAppHost = "VT_HOST"
	EnvAppPort = "VT_PORT"
	// janitor
	EnvJanitorSweepFreq = "VT_JANITOR_SWEEP_FREQ"

	// -------------- defaults --------------
	DefaultFlickrBaseURL        = "https://api.flickr.com/services/rest/"
	DefaultFlickrRequestTimeout = 10 * time.Second
	DefaultFlickrRateLimit      = 5.0
	DefaultFlickrRateBurst      = 5
	DefaultImageSizeMaxByte     = 8 << 20
	DefaultCacheDir             = "/tmp/vtourist/images"
	DefaultCacheMemSize         = 256
	DefaultDownloadPoolSize     = 8
	DefaultAppPort              = "8080"
	DefaultJanitorSweepFreq     = 10 * time.Minute

	// -------------- flickr protocol --------------
	FlickrMethodPhotosSearch = "flickr.photos.search"
	FlickrPhotosPerPage      = 100
	// flickr only ever serves the first 4000 results of a search
	FlickrMaxPages = 40

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
	LogFieldPinID    = "pinID"
	LogFieldPhotoID  = "photoID"
	LogFieldFileID   = "fileID"
	LogFieldRunID    = "runID"
)
