// Package setup builds vtourist dependencies out of viper configuration. Binaries call Load before anything else.
package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"wuyrush.io/vtourist/album"
	"wuyrush.io/vtourist/common/logging"
	rt "wuyrush.io/vtourist/common/retry"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	"wuyrush.io/vtourist/flickr"
	"wuyrush.io/vtourist/imagecache"
	"wuyrush.io/vtourist/stores"
)

// Load reads configuration from the dotenv file, if any, and env vars, then sets up logging for service name.
// Env vars take precedence over the dotenv file.
func Load(name string) {
	dotenv := os.Getenv(cst.EnvDotEnv)
	if dotenv == "" {
		dotenv = ".env"
	}
	dotenvErr := godotenv.Load(dotenv)
	viper.SetDefault(cst.EnvFlickrBaseURL, cst.DefaultFlickrBaseURL)
	viper.SetDefault(cst.EnvFlickrRequestTimeout, cst.DefaultFlickrRequestTimeout)
	viper.SetDefault(cst.EnvFlickrRateLimit, cst.DefaultFlickrRateLimit)
	viper.SetDefault(cst.EnvFlickrRateBurst, cst.DefaultFlickrRateBurst)
	viper.SetDefault(cst.EnvImageSizeMaxByte, cst.DefaultImageSizeMaxByte)
	viper.SetDefault(cst.EnvCacheDir, cst.DefaultCacheDir)
	viper.SetDefault(cst.EnvCacheMemSize, cst.DefaultCacheMemSize)
	viper.SetDefault(cst.EnvDownloadPoolSize, cst.DefaultDownloadPoolSize)
	viper.SetDefault(cst.EnvRedisHost, "localhost")
	viper.SetDefault(cst.EnvRedisPort, "6379")
	viper.SetDefault(cst.EnvAppPort, cst.DefaultAppPort)
	viper.SetDefault(cst.EnvJanitorSweepFreq, cst.DefaultJanitorSweepFreq)
	viper.AutomaticEnv()
	logging.SetupLog(name)
	if dotenvErr != nil && !os.IsNotExist(dotenvErr) {
		logging.WithFuncName().WithError(dotenvErr).WithField("path", dotenv).Warn("dotenv file not loaded")
	}
}

// RecordStore connects to Redis and waits for it to be up.
func RecordStore() (*stores.RedisStore, *se.Err) {
	retryOpts := []rt.RetryOption{
		rt.WithTimeout(3 * time.Second),
		rt.WithBaseDelay(100 * time.Millisecond),
		rt.WithExp(2.0),
		rt.WithRetryOn(rt.IsDepOffline),
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", viper.GetString(cst.EnvRedisHost), viper.GetString(cst.EnvRedisPort)),
		Password:   viper.GetString(cst.EnvRedisPasswd),
		DB:         viper.GetInt(cst.EnvRedisDB),
		MaxRetries: 3,
	})
	// NOTE docker compose's depends_on only guarantees the startup order of containers instead of the services
	// inside, so wait for Redis to accept connections
	pingFn := func() error {
		_, err := redisClient.Ping().Result()
		return err
	}
	if err := rt.Retry(pingFn, retryOpts...); err != nil {
		redisClient.Close()
		return nil, se.NewServiceFailure("failed initializing Redis").WithCause(err)
	}
	return &stores.RedisStore{DB: redisClient}, nil
}

func ImageCache() (*imagecache.Cache, *se.Err) {
	return imagecache.New(&imagecache.Config{
		Dir:     viper.GetString(cst.EnvCacheDir),
		MemSize: viper.GetInt(cst.EnvCacheMemSize),
	})
}

func FlickrClient() (*flickr.Client, *se.Err) {
	key := viper.GetString(cst.EnvFlickrAPIKey)
	if key == "" {
		return nil, se.NewPrecondition(fmt.Sprintf("%s must be set", cst.EnvFlickrAPIKey))
	}
	return flickr.NewClient(&flickr.Config{
		BaseURL:          viper.GetString(cst.EnvFlickrBaseURL),
		APIKey:           key,
		RequestTimeout:   viper.GetDuration(cst.EnvFlickrRequestTimeout),
		RateLimit:        viper.GetFloat64(cst.EnvFlickrRateLimit),
		RateBurst:        viper.GetInt(cst.EnvFlickrRateBurst),
		ImageSizeMaxByte: viper.GetInt64(cst.EnvImageSizeMaxByte),
	}), nil
}

// Deps are the dependencies shared by vtourist binaries.
type Deps struct {
	Store   *stores.RedisStore
	Cache   *imagecache.Cache
	Fetcher *album.Fetcher
}

func (d *Deps) Close() {
	if err := d.Store.Close(); err != nil {
		logging.WithFuncName().WithField("errTrace", err.Trace()).Error("error closing record store")
	}
}

// NewDeps builds every dependency, failing at the first one unavailable. Without withFlickr the fetcher can only
// delete and sweep photos.
func NewDeps(withFlickr bool) (*Deps, *se.Err) {
	clog := logging.WithFuncName()
	var client album.PhotoSource
	if withFlickr {
		c, err := FlickrClient()
		if err != nil {
			clog.WithField("errTrace", err.Trace()).Error("error setting up Flickr client")
			return nil, err
		}
		client = c
	}
	cache, err := ImageCache()
	if err != nil {
		clog.WithField("errTrace", err.Trace()).Error("error setting up image cache")
		return nil, err
	}
	store, err := RecordStore()
	if err != nil {
		clog.WithField("errTrace", err.Trace()).Error("error setting up record store")
		return nil, err
	}
	f := album.NewFetcher(&album.Config{
		Client:   client,
		Cache:    cache,
		Store:    store,
		PoolSize: viper.GetInt(cst.EnvDownloadPoolSize),
	})
	return &Deps{Store: store, Cache: cache, Fetcher: f}, nil
}
