// pkg/chunk/mem_cache.go

package chunk

import (
	"strings"
	"sync"
	"time"
)

type memItem struct {
	atime time.Time
	data  []byte
}

// memCache keeps recently read chunk payloads shared by all readers.
type memCache struct {
	sync.Mutex
	capacity int64
	used     int64
	pages    map[string]memItem
}

func newMemCache(capacity int64) *memCache {
	return &memCache{
		capacity: capacity,
		pages:    make(map[string]memItem),
	}
}

func (c *memCache) usedMemory() int64 {
	c.Lock()
	defer c.Unlock()
	return c.used
}

func (c *memCache) cache(key string, data []byte) {
	if c.capacity == 0 {
		return
	}
	c.Lock()
	defer c.Unlock()
	if _, ok := c.pages[key]; ok {
		return
	}
	c.pages[key] = memItem{time.Now(), data}
	c.used += int64(len(data))
	if c.used > c.capacity {
		c.cleanup()
	}
}

func (c *memCache) delete(key string, item memItem) {
	c.used -= int64(len(item.data))
	delete(c.pages, key)
}

func (c *memCache) removePrefix(prefix string) {
	c.Lock()
	defer c.Unlock()
	for k, item := range c.pages {
		if strings.HasPrefix(k, prefix) {
			c.delete(k, item)
		}
	}
}

func (c *memCache) load(key string) ([]byte, bool) {
	c.Lock()
	defer c.Unlock()
	if item, ok := c.pages[key]; ok {
		c.pages[key] = memItem{time.Now(), item.data}
		return item.data, true
	}
	return nil, false
}

// locked
func (c *memCache) cleanup() {
	var cnt int
	var lastKey string
	var lastValue memItem
	var now = time.Now()
	for c.used > c.capacity && len(c.pages) > 0 {
		cnt = 0
		// for each two random keys, then compare the access time, evict the older one
		for k, v := range c.pages {
			if cnt == 0 || lastValue.atime.After(v.atime) {
				lastKey = k
				lastValue = v
			}
			cnt++
			if cnt > 1 {
				logger.Debugf("remove %s from cache, age: %s", lastKey, now.Sub(lastValue.atime))
				c.delete(lastKey, lastValue)
				cnt = 0
				if c.used <= c.capacity {
					return
				}
			}
		}
		if cnt == 1 {
			// the odd one out has no partner
			c.delete(lastKey, lastValue)
		}
	}
}
