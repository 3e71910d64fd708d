package detect

import (
	"container/list"
	"sync"
)

// s3fifo bounds a backing PredictionCache with S3-FIFO eviction
// (Yang et al., 2023). New keys enter a small probationary FIFO holding
// about a tenth of the capacity; keys read again before they reach its head
// move to the main FIFO, the rest are evicted and remembered in a bounded
// ghost ring. A key found in the ghost ring on insert goes straight to main.
// Evicted keys are also deleted from the backing store so the file stays
// bounded. bbolt I/O happens outside the mutex.
type s3fifo struct {
	mu sync.Mutex

	capacity int
	small    int

	items map[string]*fifoItem
	sq    *list.List
	mq    *list.List

	ghost     []string
	ghostIdx  map[string]struct{}
	ghostNext int

	backing PredictionCache
	evicted func(key string)
}

type fifoItem struct {
	value []byte
	hits  uint8 // saturates at 3
	elem  *list.Element
	main  bool
}

// NewBoundedCache fronts backing with an S3-FIFO layer of the given
// capacity (minimum 2 entries).
func NewBoundedCache(backing PredictionCache, capacity int) PredictionCache {
	capacity = max(capacity, 2)
	small := max(capacity/10, 1)
	c := &s3fifo{
		capacity: capacity,
		small:    small,
		items:    make(map[string]*fifoItem, capacity),
		sq:       list.New(),
		mq:       list.New(),
		ghost:    make([]string, 0, max(2*small, 4)),
		ghostIdx: make(map[string]struct{}),
		backing:  backing,
	}
	c.evicted = func(key string) { go c.backing.Delete(key) }
	return c
}

func (c *s3fifo) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if it, ok := c.items[key]; ok {
		if it.hits < 3 {
			it.hits++
		}
		v := it.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	v, ok := c.backing.Get(key)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	c.admit(key, v)
	c.mu.Unlock()
	return v, true
}

func (c *s3fifo) Set(key string, value []byte) {
	c.mu.Lock()
	c.admit(key, value)
	c.mu.Unlock()
	c.backing.Set(key, value)
}

func (c *s3fifo) Delete(key string) {
	c.mu.Lock()
	if it, ok := c.items[key]; ok {
		c.queue(it).Remove(it.elem)
		delete(c.items, key)
	}
	c.mu.Unlock()
	c.backing.Delete(key)
}

func (c *s3fifo) Close() error { return c.backing.Close() }

// Len reports the number of resident entries.
func (c *s3fifo) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *s3fifo) queue(it *fifoItem) *list.List {
	if it.main {
		return c.mq
	}
	return c.sq
}

// admit inserts or updates key. Caller holds c.mu.
func (c *s3fifo) admit(key string, value []byte) {
	if it, ok := c.items[key]; ok {
		it.value = value
		return
	}
	_, seen := c.ghostIdx[key]
	it := &fifoItem{value: value, main: seen}
	it.elem = c.queue(it).PushBack(key)
	c.items[key] = it
	for len(c.items) > c.capacity {
		if c.sq.Len() >= c.small || c.mq.Len() == 0 {
			c.evictSmall()
		} else {
			c.evictMain()
		}
	}
}

func (c *s3fifo) evictSmall() {
	front := c.sq.Front()
	key := c.sq.Remove(front).(string)
	it := c.items[key]
	if it.hits == 0 {
		delete(c.items, key)
		c.remember(key)
		c.evicted(key)
		return
	}
	it.hits = 0
	it.main = true
	it.elem = c.mq.PushBack(key)
	if c.mq.Len() > c.capacity-c.small {
		c.evictMain()
	}
}

// evictMain drops the first main entry without pending hits; entries that
// were read get another lap with one hit consumed.
func (c *s3fifo) evictMain() {
	for {
		front := c.mq.Front()
		if front == nil {
			return
		}
		key := c.mq.Remove(front).(string)
		it := c.items[key]
		if it.hits > 0 {
			it.hits--
			it.elem = c.mq.PushBack(key)
			continue
		}
		delete(c.items, key)
		c.evicted(key)
		return
	}
}

// remember adds key to the ghost ring, overwriting the oldest entry when full.
func (c *s3fifo) remember(key string) {
	if _, ok := c.ghostIdx[key]; ok {
		return
	}
	if len(c.ghost) < cap(c.ghost) {
		c.ghost = append(c.ghost, key)
	} else {
		delete(c.ghostIdx, c.ghost[c.ghostNext])
		c.ghost[c.ghostNext] = key
		c.ghostNext = (c.ghostNext + 1) % len(c.ghost)
	}
	c.ghostIdx[key] = struct{}{}
}
