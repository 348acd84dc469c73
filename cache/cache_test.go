package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gg"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestShardedGetSet(t *testing.T) {
	c := NewSharded[string, int](10, StringHasher)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) reported a hit")
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("after overwrite Get(a) = %d, want 2", v)
	}
	if !c.Delete("a") || c.Delete("a") {
		t.Error("Delete should report presence exactly once")
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", s.Hits, s.Misses)
	}
	if s.Capacity != 10*DefaultShardCount {
		t.Errorf("capacity = %d", s.Capacity)
	}
}

func TestShardedTTL(t *testing.T) {
	clk := newFakeClock()
	c := NewSharded[string, string](10, StringHasher, WithTTL(time.Minute), WithClock(clk.Now))

	c.Set("long", "v")
	c.SetTTL("short", "v", 10*time.Second)

	clk.Advance(10 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Error("short entry still returned at its expiry")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("long entry expired early")
	}

	clk.Advance(time.Minute)
	if n := c.Sweep(clk.Now()); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after sweep", c.Len())
	}
	if got := c.Stats().Expired; got != 2 {
		t.Errorf("Expired = %d, want 2", got)
	}
}

func TestShardedEvictsLRU(t *testing.T) {
	// Identity hash with keys that are multiples of the shard count all
	// land in shard 0.
	c := NewSharded[uint64, int](2, Uint64Hasher)
	k := func(i int) uint64 { return uint64(i * DefaultShardCount) }

	c.Set(k(1), 1)
	c.Set(k(2), 2)
	c.Get(k(1)) // k(2) is now oldest
	c.Set(k(3), 3)

	if _, ok := c.Get(k(2)); ok {
		t.Error("least recently used entry was not evicted")
	}
	for _, i := range []int{1, 3} {
		if _, ok := c.Get(k(i)); !ok {
			t.Errorf("entry %d evicted", i)
		}
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Errorf("Evictions = %d, want 1", ev)
	}
}

func TestShardedConcurrent(t *testing.T) {
	c := NewSharded[string, int](64, StringHasher)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				key := strconv.Itoa(g*1000 + i%50)
				c.Set(key, i)
				c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
			}
		}()
	}
	wg.Wait()
	c.Sweep(time.Now())
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear", c.Len())
	}
}

func testSurface(w, h int) *Surface {
	return NewSurface(gg.NewPixmap(w, h))
}

func TestLayerCacheGetPut(t *testing.T) {
	c := NewLayerCache(1)
	s := testSurface(10, 10)
	c.Put(42, s)

	got, ok := c.Get(42)
	if !ok || got != s {
		t.Fatal("Get did not return the stored surface")
	}
	if _, ok := c.Get(7); ok {
		t.Error("unexpected hit")
	}
	st := c.Stats()
	if st.Size != 400 || st.Len != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}

	c.Invalidate(42)
	if c.Contains(42) {
		t.Error("entry survived Invalidate")
	}
	if c.Stats().Size != 0 {
		t.Error("size not released")
	}
}

func TestLayerCacheBudget(t *testing.T) {
	c := NewLayerCache(1) // 1 MiB
	// 256x256 RGBA = 256 KiB, four fit.
	for i := range uint64(4) {
		c.Put(i, testSurface(256, 256))
	}
	c.Get(0) // 1 is now oldest
	c.Put(4, testSurface(256, 256))

	if c.Contains(1) {
		t.Error("oldest entry not evicted")
	}
	for _, k := range []uint64{0, 2, 3, 4} {
		if !c.Contains(k) {
			t.Errorf("entry %d evicted", k)
		}
	}
	if st := c.Stats(); st.Size > st.MaxSize {
		t.Errorf("size %d exceeds budget %d", st.Size, st.MaxSize)
	}

	c.Put(99, testSurface(1024, 1024)) // 4 MiB, larger than the budget
	if c.Contains(99) {
		t.Error("oversized surface cached")
	}

	// Replacing an entry does not double count.
	c.Put(0, testSurface(256, 256))
	if got := c.Stats().Size; got != 4*256*256*4 {
		t.Errorf("size = %d after replace", got)
	}

	c.InvalidateAll()
	if c.Len() != 0 || c.Stats().Size != 0 {
		t.Error("InvalidateAll left entries")
	}
}

func TestLayerCacheSweep(t *testing.T) {
	clk := newFakeClock()
	c := NewLayerCache(1, WithTTL(5*time.Minute), WithClock(clk.Now))

	c.Put(1, testSurface(4, 4))
	clk.Advance(3 * time.Minute)
	c.Put(2, testSurface(4, 4))
	clk.Advance(3 * time.Minute)

	// Reads do not extend the lifetime of an entry.
	c.Get(1)
	if n := c.Sweep(clk.Now()); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if c.Contains(1) || !c.Contains(2) {
		t.Error("wrong entry swept")
	}
	if c.Stats().Expired != 1 {
		t.Error("expired counter not updated")
	}
}

func TestSurfaceImageBuf(t *testing.T) {
	pm := gg.NewPixmap(3, 2)
	pm.SetPixel(1, 1, gg.RGBA{R: 1, A: 1})
	s := NewSurface(pm)

	var wg sync.WaitGroup
	bufs := make([]*gg.ImageBuf, 4)
	for i := range bufs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bufs[i] = s.ImageBuf()
		}()
	}
	wg.Wait()
	for _, b := range bufs[1:] {
		if b != bufs[0] {
			t.Fatal("ImageBuf converted more than once")
		}
	}
	if bufs[0].Width() != 3 || bufs[0].Height() != 2 {
		t.Errorf("buf size = %dx%d", bufs[0].Width(), bufs[0].Height())
	}
	if r, _, _, a := bufs[0].GetRGBA(1, 1); r != 255 || a != 255 {
		t.Errorf("pixel (1,1) = r%d a%d", r, a)
	}
}

type countingSweeper struct {
	mu sync.Mutex
	n  int
}

func (s *countingSweeper) Sweep(time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return 1
}

func (s *countingSweeper) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, b := &countingSweeper{}, &countingSweeper{}
	done := make(chan error, 1)
	go func() { done <- RunSweeper(ctx, time.Millisecond, a, b) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.calls() < 3 || b.calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("sweepers not called")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunSweeper returned %v", err)
	}
}
