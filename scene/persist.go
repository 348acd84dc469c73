package scene

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/store"
)

// DefaultPersistDelay is how long the registry waits after a change
// before writing a snapshot, so bursts of mutations cost one write.
const DefaultPersistDelay = 50 * time.Millisecond

// persistTimeout bounds a single store write.
const persistTimeout = 5 * time.Second

// persister writes registry snapshots to a store in the background.
// It listens on a registry subscription and coalesces changes; write
// failures are logged and retried on the next change. In-memory state
// stays authoritative.
type persister struct {
	reg   *Registry
	store store.Store
	key   string
	delay time.Duration
	sub   *Subscription

	writeMu  sync.Mutex // serializes writes
	failures atomic.Uint64
	writes   atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	closeErr error
}

func newPersister(r *Registry, s store.Store, key string, delay time.Duration) *persister {
	p := &persister{
		reg:   r,
		store: s,
		key:   key,
		delay: delay,
		sub:   r.Subscribe(DefaultSubscriptionBuffer),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *persister) run() {
	defer p.wg.Done()
	var (
		timer  *time.Timer
		timerC <-chan time.Time
		dirty  bool
	)
	flush := func() error {
		if !dirty {
			return nil
		}
		dirty = false
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		err := p.write(ctx)
		if err != nil {
			ggstream.Logger().Warn("scene: persist state", "key", p.key, "err", err)
		}
		return err
	}
	for {
		select {
		case _, ok := <-p.sub.C:
			if !ok {
				p.closeErr = flush()
				return
			}
			dirty = true
			if timer == nil {
				timer = time.NewTimer(p.delay)
				timerC = timer.C
			}
		case <-timerC:
			timer, timerC = nil, nil
			_ = flush()
		case <-p.done:
			if timer != nil {
				timer.Stop()
			}
		drain:
			for {
				select {
				case _, ok := <-p.sub.C:
					if !ok {
						break drain
					}
					dirty = true
				default:
					break drain
				}
			}
			p.closeErr = flush()
			return
		}
	}
}

// write encodes the current snapshot and stores it.
func (p *persister) write(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	data, err := EncodeState(p.reg.Snapshot())
	if err != nil {
		p.failures.Add(1)
		return fmt.Errorf("scene: encode state: %w", err)
	}
	if err := p.store.Put(ctx, p.key, data); err != nil {
		p.failures.Add(1)
		return fmt.Errorf("scene: store state: %w", err)
	}
	p.writes.Add(1)
	return nil
}

// close writes pending changes and stops the goroutine. It returns the
// error of that final write.
func (p *persister) close() error {
	close(p.done)
	p.wg.Wait()
	p.sub.Close()
	return p.closeErr
}

// PersistStats reports successful and failed state writes. Both are zero
// for a registry without a store.
func (r *Registry) PersistStats() (writes, failures uint64) {
	if r.saver == nil {
		return 0, 0
	}
	return r.saver.writes.Load(), r.saver.failures.Load()
}
