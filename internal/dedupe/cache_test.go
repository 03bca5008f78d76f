// ABOUTME: Tests for the message id dedupe cache
// ABOUTME: Validates TTL expiry with a fake clock, size eviction, sweeping and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newCache(t *testing.T, ttl time.Duration, size int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Options{TTL: ttl, MaxSize: size, CleanupInterval: time.Hour, Now: clock.Now})
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_SeenAfterMark(t *testing.T) {
	c, _ := newCache(t, time.Minute, 10)

	assert.False(t, c.Seen("wamid.1"))
	c.Mark("wamid.1")
	assert.True(t, c.Seen("wamid.1"))
	assert.False(t, c.Seen("wamid.2"))
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newCache(t, time.Minute, 10)

	c.Mark("wamid.1")
	clock.Advance(59 * time.Second)
	assert.True(t, c.Seen("wamid.1"))

	clock.Advance(time.Second)
	assert.False(t, c.Seen("wamid.1"), "expires at exactly the TTL")
}

func TestCache_MarkRefreshes(t *testing.T) {
	c, clock := newCache(t, time.Minute, 10)

	c.Mark("wamid.1")
	clock.Advance(50 * time.Second)
	c.Mark("wamid.1")
	clock.Advance(50 * time.Second)

	assert.True(t, c.Seen("wamid.1"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldest(t *testing.T) {
	c, _ := newCache(t, time.Hour, 3)

	for i := 1; i <= 4; i++ {
		c.Mark(fmt.Sprintf("m%d", i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("m1"))
	assert.True(t, c.Seen("m2"))
	assert.True(t, c.Seen("m4"))
}

func TestCache_EvictionRespectsRefresh(t *testing.T) {
	c, _ := newCache(t, time.Hour, 2)

	c.Mark("a")
	c.Mark("b")
	c.Mark("a") // a becomes newest
	c.Mark("c")

	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
}

func TestCache_Forget(t *testing.T) {
	c, _ := newCache(t, time.Hour, 10)

	c.Mark("a")
	c.Forget("a")
	c.Forget("never-marked")

	assert.False(t, c.Seen("a"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newCache(t, time.Minute, 10)

	c.Mark("old")
	clock.Advance(2 * time.Minute)
	c.Mark("new")
	c.Sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
}

func TestCache_Defaults(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	assert.Equal(t, 10*time.Minute, c.ttl)
	assert.Equal(t, 10000, c.maxSize)
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(Options{})
	c.Close()
	c.Close()
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newCache(t, time.Hour, 100)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				id := fmt.Sprintf("g%d-%d", g, i)
				c.Mark(id)
				c.Seen(id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, c.Len())
}
