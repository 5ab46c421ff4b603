package album

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"wuyrush.io/vtourist/common/logging"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	"wuyrush.io/vtourist/metrics"
	md "wuyrush.io/vtourist/models"
)

// CreatePin creates and persists a pin. An empty title defaults to the coordinate of the pin.
func (f *Fetcher) CreatePin(title string, lat, lon float64) (*md.Pin, *se.Err) {
	p, err := md.NewPin(title, lat, lon)
	if err != nil {
		return nil, se.NewBadInput(err.Error())
	}
	if err := f.store.SavePin(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReplaceCollection deletes every photo of pin along with its cached image, then fetches a new collection. If any
// deletion fails, the remaining photos are kept and no fetch happens. If the fetch fails, photos it persisted are
// rolled back.
func (f *Fetcher) ReplaceCollection(ctx context.Context, pin *md.Pin, onEvent EventFunc) (res *Result, err *se.Err) {
	if err := f.acquire(pin.ID); err != nil {
		return nil, err
	}
	defer f.release(pin.ID)
	defer func() {
		metrics.ReplacementsTotal.WithLabelValues(metrics.Outcome(err != nil)).Inc()
	}()
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pin.ID)

	if err := f.deleteCollection(ctx, pin.ID); err != nil {
		return nil, err
	}
	clog.Debug("old collection deleted")

	res, err = f.fetch(ctx, pin, serialize(onEvent))
	if err != nil {
		if rerr := f.deleteCollection(context.Background(), pin.ID); rerr != nil {
			clog.WithField("errTrace", rerr.Trace()).Error("error rolling back partially fetched collection")
		}
		return nil, err
	}
	return res, nil
}

// StartReplace runs ReplaceCollection in background.
func (f *Fetcher) StartReplace(ctx context.Context, pin *md.Pin) *Run {
	return start(func(emit EventFunc) (*Result, *se.Err) {
		return f.ReplaceCollection(ctx, pin, emit)
	})
}

// deleteCollection deletes all photos of the pin concurrently, returning once every deletion finishes.
func (f *Fetcher) deleteCollection(ctx context.Context, pinID string) *se.Err {
	photos, err := f.store.ListPhotos(pinID)
	if err != nil {
		return err
	}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
		causes []error
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
			if err := f.deletePhoto(ctx, p); err != nil {
				mu.Lock()
				defer mu.Unlock()
				failed = append(failed, p.ID)
				causes = append(causes, err)
			}
		}(p)
	}
	wg.Wait()
	if len(failed) > 0 {
		sort.Strings(failed)
		return se.NewPartialFailure(fmt.Sprintf("failed deleting %d of %d photos of pin %s: %s",
			len(failed), len(photos), pinID, strings.Join(failed, ","))).WithCause(causes[0])
	}
	return nil
}

// deletePhoto removes the cached image before the record so a failure never leaves an unreferenced image behind.
// Photos of nearby pins may share an image; it stays cached while another record refers to it.
func (f *Fetcher) deletePhoto(ctx context.Context, p *md.Photo) *se.Err {
	if err := ctx.Err(); err != nil {
		return se.NewServiceFailure("photo deletion canceled").WithCause(err)
	}
	if p.FileID != "" {
		refs, err := f.store.CountFileRefs(p.FileID)
		if err != nil {
			return err
		}
		// the record of p is one of them
		if refs <= 1 {
			if err := f.cache.Delete(p.FileID); err != nil {
				return err
			}
		} else {
			logging.WithFuncName().WithField(cst.LogFieldPhotoID, p.ID).WithField(cst.LogFieldFileID, p.FileID).
				WithField("refs", refs).Debug("image shared with other photos, keeping it cached")
		}
	}
	return f.store.DeletePhoto(p.PinID, p.ID)
}

// DeletePhoto deletes a single photo and its cached image.
func (f *Fetcher) DeletePhoto(ctx context.Context, pinID, photoID string) *se.Err {
	if err := f.acquire(pinID); err != nil {
		return err
	}
	defer f.release(pinID)
	p, err := f.store.GetPhoto(pinID, photoID)
	if err != nil {
		return err
	}
	return f.deletePhoto(ctx, p)
}

// DeletePin deletes the pin with its photos and their cached images.
func (f *Fetcher) DeletePin(ctx context.Context, pinID string) *se.Err {
	if err := f.acquire(pinID); err != nil {
		return err
	}
	defer f.release(pinID)
	if _, err := f.store.GetPin(pinID); err != nil {
		return err
	}
	if err := f.deleteCollection(ctx, pinID); err != nil {
		return err
	}
	return f.store.DeletePin(pinID)
}

// Sweep deletes cached images no photo record refers to and returns the number of deleted images.
func (f *Fetcher) Sweep(ctx context.Context) (int, *se.Err) {
	clog := logging.WithFuncName()
	// list the cache first: records are saved before their images get cached, so every image listed here whose
	// photo is being fetched already has its record
	ids, err := f.cache.IDs()
	if err != nil {
		return 0, err
	}
	pins, err := f.store.ListPins()
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{})
	for _, pin := range pins {
		photos, err := f.store.ListPhotos(pin.ID)
		if err != nil {
			return 0, err
		}
		for _, p := range photos {
			if p.FileID != "" {
				referenced[p.FileID] = struct{}{}
			}
		}
	}
	n := 0
	for _, id := range ids {
		if _, ok := referenced[id]; ok {
			continue
		}
		if ctx.Err() != nil {
			return n, se.NewServiceFailure("sweep canceled").WithCause(ctx.Err())
		}
		if err := f.cache.Delete(id); err != nil {
			clog.WithField(cst.LogFieldFileID, id).WithField("errTrace", err.Trace()).Error("error deleting orphaned image")
			continue
		}
		n++
	}
	clog.WithField("deleted", n).Info("image cache swept")
	return n, nil
}
