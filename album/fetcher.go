// Package album builds and maintains the photo collection of pins: it searches Flickr around a pin, persists the
// photo records and caches their images.
package album

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/vtourist/common/logging"
	"wuyrush.io/vtourist/common/retry"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	"wuyrush.io/vtourist/flickr"
	"wuyrush.io/vtourist/metrics"
	md "wuyrush.io/vtourist/models"
	"wuyrush.io/vtourist/stores"
)

// PhotoSource searches photos and downloads their images.
type PhotoSource interface {
	SearchPhotos(ctx context.Context, bbox string, page int) (*flickr.SearchPage, *se.Err)
	FetchImage(ctx context.Context, path string) ([]byte, *se.Err)
}

// ImageCache stores image bytes by file identifier.
type ImageCache interface {
	Get(id string) ([]byte, *se.Err)
	Put(id string, data []byte) *se.Err
	Delete(id string) *se.Err
	IDs() ([]string, *se.Err)
}

type Config struct {
	Client PhotoSource
	Cache  ImageCache
	Store  stores.RecordStore
	// PoolSize bounds the number of concurrent image downloads and photo deletions
	PoolSize int
	Rand     *rand.Rand
	// Retry applies to image downloads. The context of the download is always honored
	Retry []retry.RetryOption
}

// DefaultRetry retries image downloads failing at transport level twice, i.e. 3 attempts at most.
func DefaultRetry() []retry.RetryOption {
	return []retry.RetryOption{
		retry.WithMaxAttempts(2),
		retry.WithBaseDelay(200 * time.Millisecond),
		retry.WithExp(2),
		retry.WithJitter(0.1),
		retry.WithMaxBackoff(2 * time.Second),
		retry.WithRetryOn(retry.IsDepOffline),
	}
}

// Fetcher runs the photo fetch pipeline and the collection workflows built on it. At most one of them is active
// per pin at any time.
type Fetcher struct {
	client   PhotoSource
	cache    ImageCache
	store    stores.RecordStore
	poolSize int
	retry    []retry.RetryOption

	rndMu sync.Mutex
	rnd   *rand.Rand

	activeMu sync.Mutex
	active   map[string]struct{}
}

func NewFetcher(cfg *Config) *Fetcher {
	f := &Fetcher{
		client:   cfg.Client,
		cache:    cfg.Cache,
		store:    cfg.Store,
		poolSize: cfg.PoolSize,
		retry:    cfg.Retry,
		rnd:      cfg.Rand,
		active:   make(map[string]struct{}),
	}
	if f.poolSize <= 0 {
		f.poolSize = cst.DefaultDownloadPoolSize
	}
	if f.retry == nil {
		f.retry = DefaultRetry()
	}
	if f.rnd == nil {
		f.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return f
}

type State int

const (
	StateIdle State = iota
	StateBoundingBoxComputed
	StatePageCountQueried
	StatePageSelected
	StatePageFetched
	StateRecordsMaterialized
	StateImagesDownloading
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	"Idle",
	"BoundingBoxComputed",
	"PageCountQueried",
	"PageSelected",
	"PageFetched",
	"RecordsMaterialized",
	"ImagesDownloading",
	"Complete",
	"Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown fetch state %q", b)
}

// Result is the outcome of a successful fetch.
type Result struct {
	PinID string `json:"pinId"`
	State State  `json:"state"`
	// Pages is the page count reported by Flickr, before capping
	Pages int `json:"pages"`
	// Page is the page the photos come from. 0 if there was no page to fetch
	Page int `json:"page"`
	// Total is the number of photos fetched and persisted
	Total int `json:"total"`
	// Skipped is the number of search results rejected during materialization
	Skipped int         `json:"skipped"`
	Photos  []*md.Photo `json:"photos"`
}

// NoImages tells whether the fetch came back empty. Callers drive their empty state off this instead of the cache.
func (r *Result) NoImages() bool {
	return r.Total == 0
}

// acquire marks the pin busy. It fails with Conflict if a fetch or replace on the pin is in progress.
func (f *Fetcher) acquire(pinID string) *se.Err {
	f.activeMu.Lock()
	defer f.activeMu.Unlock()
	if _, ok := f.active[pinID]; ok {
		return se.NewConflict(fmt.Sprintf("photos of pin %s are being updated", pinID))
	}
	f.active[pinID] = struct{}{}
	return nil
}

func (f *Fetcher) release(pinID string) {
	f.activeMu.Lock()
	defer f.activeMu.Unlock()
	delete(f.active, pinID)
}

func (f *Fetcher) selectPage(pages int) int {
	f.rndMu.Lock()
	defer f.rndMu.Unlock()
	return SelectPage(f.rnd, pages)
}

// Fetch runs the photo fetch pipeline for pin. onEvent, if not nil, is notified per loaded photo and once all of
// them are loaded; its calls never overlap. The first error encountered fails the fetch, after all in-flight
// downloads settle. Photos persisted before the failure are kept.
func (f *Fetcher) Fetch(ctx context.Context, pin *md.Pin, onEvent EventFunc) (*Result, *se.Err) {
	if err := f.acquire(pin.ID); err != nil {
		return nil, err
	}
	defer f.release(pin.ID)
	return f.fetch(ctx, pin, serialize(onEvent))
}

// Start runs Fetch in background.
func (f *Fetcher) Start(ctx context.Context, pin *md.Pin) *Run {
	return start(func(emit EventFunc) (*Result, *se.Err) {
		return f.Fetch(ctx, pin, emit)
	})
}

type pipeline struct {
	state State
	clog  *log.Entry
}

func (p *pipeline) to(s State) {
	p.clog.WithField("from", p.state).WithField("to", s).Debug("fetch state transition")
	p.state = s
}

func (f *Fetcher) fetch(ctx context.Context, pin *md.Pin, emit EventFunc) (res *Result, err *se.Err) {
	clog := logging.WithFuncName().
		WithField(cst.LogFieldPinID, pin.ID).
		WithField(cst.LogFieldRunID, uuid.New().String())
	p := &pipeline{state: StateIdle, clog: clog}
	started := time.Now()
	defer func() {
		if err != nil {
			p.to(StateFailed)
			clog.WithField("errTrace", err.Trace()).Error("error fetching photos")
		}
		metrics.FetchDuration.WithLabelValues(metrics.Outcome(err != nil)).Observe(time.Since(started).Seconds())
	}()

	res = &Result{PinID: pin.ID, Photos: []*md.Photo{}}
	bbox := BoundingBox(pin.Latitude, pin.Longitude)
	p.to(StateBoundingBoxComputed)

	first, err := f.client.SearchPhotos(ctx, bbox, 0)
	if err != nil {
		return nil, err
	}
	res.Pages = int(first.Pages)
	p.to(StatePageCountQueried)
	if res.Pages <= 0 {
		p.to(StateComplete)
		res.State = p.state
		emit(Event{Kind: AllLoaded, PinID: pin.ID})
		return res, nil
	}

	res.Page = f.selectPage(res.Pages)
	p.to(StatePageSelected)
	page, err := f.client.SearchPhotos(ctx, bbox, res.Page)
	if err != nil {
		return nil, err
	}
	p.to(StatePageFetched)

	res.Photos, res.Skipped = Materialize(pin, page.Photo)
	res.Total = len(res.Photos)
	metrics.PhotosMaterializedTotal.Add(float64(res.Total))
	metrics.PhotosSkippedTotal.Add(float64(res.Skipped))
	if err := f.store.SavePhotos(pin.ID, res.Photos); err != nil {
		return nil, err
	}
	p.to(StateRecordsMaterialized)
	clog.WithField("page", res.Page).WithField("total", res.Total).WithField("skipped", res.Skipped).
		Info("photo records materialized")

	p.to(StateImagesDownloading)
	if err := f.downloadAll(ctx, res.Photos, emit); err != nil {
		return nil, err
	}

	n, err := f.store.CountPhotos(pin.ID)
	if err != nil {
		return nil, err
	}
	if n == res.Total {
		emit(Event{Kind: AllLoaded, PinID: pin.ID, Loaded: res.Total, Total: res.Total})
	} else {
		clog.WithField("persisted", n).WithField("total", res.Total).Warn("persisted photo count differs from fetched count")
	}
	p.to(StateComplete)
	res.State = p.state
	return res, nil
}

// Materialize turns raw search results into photos of pin. Malformed entries, entries without a usable image path
// and duplicates are skipped and counted.
func Materialize(pin *md.Pin, raws []json.RawMessage) ([]*md.Photo, int) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pin.ID)
	photos := make([]*md.Photo, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	skipped := 0
	for _, raw := range raws {
		rp, err := flickr.DecodePhoto(raw)
		if err != nil {
			clog.WithError(err).Debug("skipping malformed photo")
			skipped++
			continue
		}
		if _, ok := seen[rp.ID]; ok {
			skipped++
			continue
		}
		p := md.NewPhoto(pin, rp.ID, *rp.Title, rp.URLM)
		if !p.HasImage() {
			clog.WithField(cst.LogFieldPhotoID, rp.ID).Debug("skipping photo without image file")
			skipped++
			continue
		}
		seen[rp.ID] = struct{}{}
		photos = append(photos, p)
	}
	return photos, skipped
}

func (f *Fetcher) downloadAll(ctx context.Context, photos []*md.Photo, emit EventFunc) *se.Err {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr *se.Err
		loaded   int
	)
	quota := make(chan struct{}, f.poolSize)
	for _, p := range photos {
		wg.Add(1)
		quota <- struct{}{}
		go func(p *md.Photo) {
			defer func() {
				<-quota
				wg.Done()
			}()
			err := f.download(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			loaded++
			emit(Event{Kind: PhotoLoaded, PinID: p.PinID, Photo: p, Loaded: loaded, Total: len(photos)})
		}(p)
	}
	wg.Wait()
	return firstErr
}

// download caches the image of p unless an image of the same file identifier is already cached.
func (f *Fetcher) download(ctx context.Context, p *md.Photo) *se.Err {
	clog := logging.WithFuncName().WithField(cst.LogFieldPhotoID, p.ID).WithField(cst.LogFieldFileID, p.FileID)
	if b, err := f.cache.Get(p.FileID); err != nil {
		return err
	} else if b != nil {
		clog.Debug("image already cached")
		return nil
	}
	var data []byte
	opts := append(append([]retry.RetryOption{}, f.retry...), retry.WithContext(ctx))
	rerr := retry.Retry(func() error {
		b, err := f.client.FetchImage(ctx, p.ImagePath)
		if err != nil {
			return err
		}
		data = b
		return nil
	}, opts...)
	metrics.ImagesDownloadedTotal.WithLabelValues(metrics.Outcome(rerr != nil)).Inc()
	if rerr != nil {
		var serr *se.Err
		if errors.As(rerr, &serr) {
			return serr
		}
		return se.NewTransport(fmt.Sprintf("error downloading image of photo %s", p.ID)).WithCause(rerr)
	}
	return f.cache.Put(p.FileID, data)
}
