// Package imagecache vends a two-tier image store: an LRU memory tier for fast re-access within a process,
// backed by one file per identifier on local disk for persistence across restarts.
package imagecache

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bluele/gcache"
	"wuyrush.io/vtourist/common/logging"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	"wuyrush.io/vtourist/metrics"
	md "wuyrush.io/vtourist/models"
)

// number of locks sequencing operations on the same identifier
const lockStripes = 64

// tmpSuffix marks partially written files, which are never served
const tmpSuffix = md.TempFileSuffix

type Config struct {
	Dir     string
	MemSize int
}

// Cache maps an identifier to image bytes. It is safe for concurrent use: operations on the same identifier
// are sequenced, while operations on different identifiers proceed concurrently.
type Cache struct {
	dir   string
	mem   gcache.Cache
	locks [lockStripes]sync.RWMutex
}

func New(cfg *Config) (*Cache, *se.Err) {
	size := cfg.MemSize
	if size <= 0 {
		size = cst.DefaultCacheMemSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, se.NewServiceFailure("error allocating image cache directory").WithCause(err)
	}
	return &Cache{
		dir: cfg.Dir,
		mem: gcache.New(size).LRU().Build(),
	}, nil
}

// Get returns the image stored under id, or nil if there is none.
func (c *Cache) Get(id string) ([]byte, *se.Err) {
	if !validID(id) {
		return nil, nil
	}
	l := c.lock(id)
	l.RLock()
	defer l.RUnlock()
	if v, err := c.mem.Get(id); err == nil {
		metrics.CacheHitsTotal.WithLabelValues(metrics.TierMemory).Inc()
		return v.([]byte), nil
	}
	b, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			metrics.CacheMissesTotal.Inc()
			return nil, nil
		}
		logging.WithFuncName().WithError(err).WithField(cst.LogFieldFileID, id).Error("error reading cached image")
		return nil, se.NewServiceFailure("error reading cached image").WithCause(err)
	}
	metrics.CacheHitsTotal.WithLabelValues(metrics.TierDisk).Inc()
	// promote; a failed promotion only costs another disk read
	c.mem.Set(id, b)
	return b, nil
}

// Put stores data under id, replacing what was there. A nil data removes the entry.
func (c *Cache) Put(id string, data []byte) *se.Err {
	if data == nil {
		return c.Delete(id)
	}
	if !validID(id) {
		return se.NewBadInput("invalid image identifier " + id)
	}
	clog := logging.WithFuncName().WithField(cst.LogFieldFileID, id)
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()
	// write to a temp file then rename so that readers never observe a partial image
	f, err := os.CreateTemp(c.dir, id+".*"+tmpSuffix)
	if err != nil {
		clog.WithError(err).Error("error allocating image file")
		return se.NewServiceFailure("error allocating image file").WithCause(err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		clog.WithError(err).Error("error writing image file")
		return se.NewServiceFailure("error writing image file").WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return se.NewServiceFailure("error writing image file").WithCause(err)
	}
	if err := os.Rename(tmp, c.path(id)); err != nil {
		os.Remove(tmp)
		clog.WithError(err).Error("error committing image file")
		return se.NewServiceFailure("error committing image file").WithCause(err)
	}
	if err := c.mem.Set(id, data); err != nil {
		clog.WithError(err).Warn("error caching image in memory")
	}
	return nil
}

// Delete removes the entry under id from both tiers. Deleting an absent entry is a no-op.
func (c *Cache) Delete(id string) *se.Err {
	if !validID(id) {
		return nil
	}
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()
	c.mem.Remove(id)
	if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
		logging.WithFuncName().WithError(err).WithField(cst.LogFieldFileID, id).Error("error removing cached image")
		return se.NewServiceFailure("error removing cached image").WithCause(err)
	}
	return nil
}

// IDs lists identifiers of all entries persisted on disk.
func (c *Cache) IDs() ([]string, *se.Err) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, se.NewServiceFailure("error listing image cache directory").WithCause(err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, id)
}

func (c *Cache) lock(id string) *sync.RWMutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.locks[h.Sum32()%lockStripes]
}

// identifiers name files directly under the cache directory
func validID(id string) bool {
	return md.ValidFileID(id)
}
