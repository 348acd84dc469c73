package asset

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDecode(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	r, err := Decode("red.png", pngBytes(t, 4, 3, red))
	if err != nil {
		t.Fatal(err)
	}
	if r.Width() != 4 || r.Height() != 3 {
		t.Errorf("size = %dx%d", r.Width(), r.Height())
	}
	if r.MIME != "image/png" {
		t.Errorf("MIME = %q", r.MIME)
	}
	if got := r.Image().RGBAAt(2, 1); got.R != 255 || got.A != 255 {
		t.Errorf("pixel = %v", got)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"text", []byte("hello, not an image"), ErrUnsupported},
		{"empty", nil, ErrUnsupported},
		{"truncated png", pngBytes(t, 8, 8, red)[:40], ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.name, tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResourceScaled(t *testing.T) {
	r, err := Decode("a.png", pngBytes(t, 8, 4, color.White))
	if err != nil {
		t.Fatal(err)
	}
	if r.Scaled(image.Rectangle{}, 8, 4) != r.Buf() {
		t.Error("native size should return the original buffer")
	}
	half := r.Scaled(image.Rectangle{}, 4, 2)
	if half.Width() != 4 || half.Height() != 2 {
		t.Errorf("scaled size = %dx%d", half.Width(), half.Height())
	}
	if r.Scaled(image.Rectangle{}, 4, 2) != half {
		t.Error("scaled variant not cached")
	}
	frame := r.Scaled(image.Rect(4, 0, 8, 4), 2, 2)
	if frame == nil || frame.Width() != 2 {
		t.Error("sub-rectangle not scaled")
	}
	if r.Scaled(image.Rect(100, 100, 120, 120), 2, 2) != nil {
		t.Error("out-of-bounds source should yield nil")
	}
	if r.Scaled(image.Rectangle{}, 0, 5) != nil {
		t.Error("zero target should yield nil")
	}
}

func TestLoaderCachesAndDedupes(t *testing.T) {
	src := NewMemorySource()
	src.Put("a.png", pngBytes(t, 2, 2, color.White))
	release := make(chan struct{})
	src.SetHook(func(ctx context.Context, ref string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	l := NewLoader(src)
	defer l.Close()

	var wg sync.WaitGroup
	results := make([]*Resource, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Load(context.Background(), "a.png")
			if err != nil {
				t.Error(err)
			}
			results[i] = r
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := src.Loads(); n != 1 {
		t.Errorf("source loaded %d times, want 1", n)
	}
	for _, r := range results[1:] {
		if r != results[0] {
			t.Fatal("callers got different resources")
		}
	}
	if _, err := l.Load(context.Background(), "a.png"); err != nil {
		t.Fatal(err)
	}
	if src.Loads() != 1 {
		t.Error("cached resource was reloaded")
	}
	if s := l.Stats(); s.Hits == 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestLoaderWaitIsBounded(t *testing.T) {
	src := NewMemorySource()
	src.Put("slow.png", pngBytes(t, 1, 1, color.White))
	block := make(chan struct{})
	defer close(block)
	src.SetHook(func(ctx context.Context, ref string) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	l := NewLoader(src, WithWait(20*time.Millisecond))
	defer l.Close()

	start := time.Now()
	_, err := l.Load(context.Background(), "slow.png")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Ref != "slow.png" {
		t.Errorf("err = %#v, want *LoadError for slow.png", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Load waited far beyond its bound")
	}
}

func TestLoaderLookup(t *testing.T) {
	src := NewMemorySource()
	src.Put("a.png", pngBytes(t, 2, 2, color.White))
	release := make(chan struct{})
	src.SetHook(func(context.Context, string) error {
		<-release
		return nil
	})
	l := NewLoader(src)
	defer l.Close()

	for range 3 {
		if _, st, _ := l.Lookup("a.png"); st != StateLoading {
			t.Fatalf("state = %s, want loading", st)
		}
	}
	close(release)
	waitFor(t, "resource ready", func() bool {
		_, st, _ := l.Lookup("a.png")
		return st == StateReady
	})
	if n := src.Loads(); n != 1 {
		t.Errorf("source loaded %d times, want 1", n)
	}
}

func TestLoaderCachesFailures(t *testing.T) {
	clk := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clk
	}
	src := NewMemorySource()
	l := NewLoader(src, WithErrorTTL(time.Second), WithClock(now))
	defer l.Close()

	_, err := l.Load(context.Background(), "missing.png")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, st, err := l.Lookup("missing.png"); st != StateFailed || err == nil {
		t.Errorf("Lookup = %s, %v; want failed", st, err)
	}
	if src.Loads() != 1 {
		t.Errorf("failure not cached: %d loads", src.Loads())
	}

	// The failure expires after the error TTL and the fixed asset loads.
	src.Put("missing.png", pngBytes(t, 1, 1, color.White))
	mu.Lock()
	clk = clk.Add(2 * time.Second)
	mu.Unlock()
	if _, err := l.Load(context.Background(), "missing.png"); err != nil {
		t.Fatalf("reload after error TTL: %v", err)
	}
	if total, failed := l.Loads(); total != 2 || failed != 1 {
		t.Errorf("loads = %d/%d", total, failed)
	}
}

func TestLoaderInvalidate(t *testing.T) {
	src := NewMemorySource()
	src.Put("a.png", pngBytes(t, 1, 1, color.White))
	l := NewLoader(src)
	defer l.Close()

	first, err := l.Load(context.Background(), "a.png")
	if err != nil {
		t.Fatal(err)
	}
	if g := l.Generation("a.png"); g != 0 {
		t.Errorf("generation before invalidate = %d, want 0", g)
	}
	src.Put("a.png", pngBytes(t, 3, 3, color.Black))
	l.Invalidate("a.png")
	if g := l.Generation("a.png"); g != 1 {
		t.Errorf("generation = %d, want 1", g)
	}
	second, err := l.Load(context.Background(), "a.png")
	if err != nil {
		t.Fatal(err)
	}
	if first == second || second.Width() != 3 {
		t.Error("invalidated resource not reloaded")
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "models"), 0o755); err != nil {
		t.Fatal(err)
	}
	data := pngBytes(t, 2, 2, color.White)
	if err := os.WriteFile(filepath.Join(dir, "models", "host.png"), data, 0o600); err != nil {
		t.Fatal(err)
	}
	src := NewDirSource(dir)

	got, err := src.Load(context.Background(), "models/host.png")
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Load = %d bytes, %v", len(got), err)
	}
	for _, ref := range []string{"nope.png", "../secret", "/../../etc/passwd"} {
		if _, err := src.Load(context.Background(), ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load(%q) error = %v, want ErrNotFound", ref, err)
		}
	}
}

func TestLoaderWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.png")
	if err := os.WriteFile(path, pngBytes(t, 1, 1, color.White), 0o600); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(NewDirSource(dir))
	defer l.Close()
	if _, err := l.Load(context.Background(), "feed.png"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Watch(ctx) }()

	// The watcher registers asynchronously; rewrite until the change is seen.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := os.WriteFile(path, pngBytes(t, 5, 5, color.White), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
		if l.Stats().Len == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("change not observed")
		}
	}
	r, err := l.Load(context.Background(), "feed.png")
	if err != nil || r.Width() != 5 {
		t.Fatalf("reloaded = %v, %v", r, err)
	}
}
