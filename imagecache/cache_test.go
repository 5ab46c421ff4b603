package imagecache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	se "wuyrush.io/vtourist/errors"
)

func newTestCache(t *testing.T, memSize int) (*Cache, string) {
	dir := t.TempDir()
	c, err := New(&Config{Dir: dir, MemSize: memSize})
	require.Nil(t, err)
	return c, dir
}

func TestCache_PutGetDelete(t *testing.T) {
	c, dir := newTestCache(t, 8)
	id, img := "1418878_1e92283336_m.jpg", []byte("fake jpeg bytes")

	b, err := c.Get(id)
	require.Nil(t, err)
	assert.Nil(t, b, "unknown identifier must be absent")

	require.Nil(t, c.Put(id, img))
	b, err = c.Get(id)
	require.Nil(t, err)
	assert.Equal(t, img, b)
	onDisk, rerr := os.ReadFile(filepath.Join(dir, id))
	require.Nil(t, rerr)
	assert.Equal(t, img, onDisk)

	require.Nil(t, c.Delete(id))
	b, err = c.Get(id)
	require.Nil(t, err)
	assert.Nil(t, b)
	_, serr := os.Stat(filepath.Join(dir, id))
	assert.True(t, os.IsNotExist(serr))

	// idempotent
	assert.Nil(t, c.Delete(id))
}

func TestCache_PutNilRemoves(t *testing.T) {
	c, _ := newTestCache(t, 8)
	require.Nil(t, c.Put("a.jpg", []byte("a")))
	require.Nil(t, c.Put("a.jpg", nil))
	b, err := c.Get("a.jpg")
	require.Nil(t, err)
	assert.Nil(t, b)
}

func TestCache_Overwrite(t *testing.T) {
	c, _ := newTestCache(t, 8)
	require.Nil(t, c.Put("a.jpg", []byte("old")))
	require.Nil(t, c.Put("a.jpg", []byte("new")))
	b, err := c.Get("a.jpg")
	require.Nil(t, err)
	assert.Equal(t, []byte("new"), b)
}

func TestCache_SurvivesRestart(t *testing.T) {
	c, dir := newTestCache(t, 8)
	require.Nil(t, c.Put("a.jpg", []byte("persisted")))

	restarted, err := New(&Config{Dir: dir, MemSize: 8})
	require.Nil(t, err)
	b, gerr := restarted.Get("a.jpg")
	require.Nil(t, gerr)
	assert.Equal(t, []byte("persisted"), b)
}

func TestCache_EvictedFromMemoryServedFromDisk(t *testing.T) {
	c, _ := newTestCache(t, 1)
	require.Nil(t, c.Put("a.jpg", []byte("a")))
	require.Nil(t, c.Put("b.jpg", []byte("b")))
	b, err := c.Get("a.jpg")
	require.Nil(t, err)
	assert.Equal(t, []byte("a"), b)
}

func TestCache_InvalidIdentifiers(t *testing.T) {
	c, dir := newTestCache(t, 8)
	for _, id := range []string{"", ".", "..", "../escape.jpg", "a/b.jpg", `a\b.jpg`, "x.tmp"} {
		t.Run(fmt.Sprintf("%q", id), func(t *testing.T) {
			err := c.Put(id, []byte("x"))
			require.NotNil(t, err)
			assert.Equal(t, se.ErrCodeBadInput, err.Code)
			b, gerr := c.Get(id)
			assert.Nil(t, gerr)
			assert.Nil(t, b)
			assert.Nil(t, c.Delete(id))
		})
	}
	_, serr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.jpg"))
	assert.True(t, os.IsNotExist(serr))
}

func TestCache_IDs(t *testing.T) {
	c, dir := newTestCache(t, 8)
	require.Nil(t, c.Put("a.jpg", []byte("a")))
	require.Nil(t, c.Put("b.jpg", []byte("b")))
	// leftovers of an interrupted write are not entries
	require.Nil(t, os.WriteFile(filepath.Join(dir, "c.jpg.123.tmp"), []byte("partial"), 0o644))
	ids, err := c.IDs()
	require.Nil(t, err)
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, ids)
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, 4)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("%d.jpg", i%4)
			data := []byte(fmt.Sprintf("payload-%d", i%4))
			assert.Nil(t, c.Put(id, data))
			b, err := c.Get(id)
			assert.Nil(t, err)
			assert.Equal(t, data, b)
		}(i)
	}
	wg.Wait()
}
