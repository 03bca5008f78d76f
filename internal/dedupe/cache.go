// ABOUTME: Thread-safe TTL cache of recently processed provider message ids
// ABOUTME: Front line of webhook deduplication; the message ledger stays authoritative

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Options configure a Cache. Zero values fall back to defaults.
type Options struct {
	TTL             time.Duration // default 10m
	MaxSize         int           // default 10000
	CleanupInterval time.Duration // default 1m
	Now             func() time.Time
}

type entry struct {
	id     string
	seenAt time.Time
}

// Cache remembers message ids for a bounded time and count. The oldest id
// is evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element // id -> element holding *entry
	order   *list.List               // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background sweeper.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 10000
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(opts.CleanupInterval)
	return c
}

// Seen reports whether id was marked within the TTL.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[id]
	if !ok {
		return false
	}
	return c.fresh(elem.Value.(*entry))
}

// Mark records id as processed, refreshing its age if already present.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.index[id]; ok {
		elem.Value.(*entry).seenAt = now
		c.order.MoveToBack(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[id] = c.order.PushBack(&entry{id: id, seenAt: now})
}

// Forget drops id so it can be processed again.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[id]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of remembered ids, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) fresh(e *entry) bool {
	return c.now().Sub(e.seenAt) < c.ttl
}

// removeLocked deletes one element. Must be called with mu held.
func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.index, elem.Value.(*entry).id)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep removes expired ids. Entries are ordered by mark time, so it stops
// at the first fresh one.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; elem = c.order.Front() {
		if c.fresh(elem.Value.(*entry)) {
			return
		}
		c.removeLocked(elem)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
