// Package parallel runs layer rendering on a fixed set of long-lived
// workers.
//
// The pool and its workers exchange a closed set of messages: a Task is
// handed to an idle worker, and a Complete or Error comes back on
// Results. A worker that does not answer within the task timeout is
// treated as crashed: it is retired, a new generation is spawned in its
// slot (announced with Ready), and its task is requeued until the
// attempt limit is reached. Results from a retired generation are
// discarded.
package parallel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/render"
)

// Pool defaults.
const (
	DefaultTimeout     = 2 * time.Second
	DefaultMaxAttempts = 2
)

// Errors reported by the pool.
var (
	// ErrNoWorkers is returned when no worker could be spawned.
	ErrNoWorkers = errors.New("parallel: no workers available")

	// ErrTimeout is reported for tasks whose every attempt timed out.
	ErrTimeout = errors.New("parallel: worker timed out")

	// ErrPanic is reported for tasks whose renderer panicked.
	ErrPanic = errors.New("parallel: renderer panicked")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("parallel: pool closed")
)

// RenderFunc renders a task into a new surface.
type RenderFunc func(t Task) (*cache.Surface, render.Status, error)

// Factory initializes the render function of the worker in the given
// slot. It is called once per worker generation.
type Factory func(worker int) (RenderFunc, error)

// RenderTask renders t with r into a new surface of the task size.
func RenderTask(r render.Renderer, t Task) (*cache.Surface, render.Status, error) {
	pm := gg.NewPixmap(t.Width, t.Height)
	dc := gg.NewContext(t.Width, t.Height, gg.WithPixmap(pm))
	status, err := r.Render(dc, t.Content, t.Width, t.Height)
	return cache.NewSurface(pm), status, err
}

// RendererFactory returns a Factory whose workers all render with r.
func RendererFactory(r render.Renderer) Factory {
	return func(int) (RenderFunc, error) {
		return func(t Task) (*cache.Surface, render.Status, error) {
			return RenderTask(r, t)
		}, nil
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithSize sets the number of worker slots. Non-positive values mean
// GOMAXPROCS.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithTimeout sets how long a worker may take for one task before it is
// considered crashed.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxAttempts sets how many times a timed-out task is dispatched
// before an Error is reported.
func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithResultBuffer sets the capacity of the Results channel.
func WithResultBuffer(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.resultBuf = n
		}
	}
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int
	Busy      int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Timeouts  uint64
	Respawns  uint64
}

// Pool dispatches render tasks to workers.
//
// A single dispatcher goroutine owns the queue and the worker slots;
// Submit only appends to the queue under a mutex and never blocks on
// workers or on the Results consumer.
type Pool struct {
	size        int
	timeout     time.Duration
	maxAttempts int
	resultBuf   int
	factory     Factory

	mu     sync.Mutex
	queue  []Task
	closed bool

	wake    chan struct{}
	replies chan reply
	results chan Message
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	nextID    atomic.Uint64
	live      atomic.Int64
	busy      atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timeouts  atomic.Uint64
	respawns  atomic.Uint64
}

// slot is a worker position owned by the dispatcher.
type slot struct {
	id       int
	gen      uint64
	inbox    chan Task
	quit     chan struct{}
	alive    bool
	task     *Task
	deadline time.Time
}

// reply is what a worker goroutine sends back to the dispatcher.
type reply struct {
	worker  int
	gen     uint64
	task    Task
	surface *cache.Surface
	status  render.Status
	err     error
	elapsed time.Duration
	panic   any
}

// New spawns the workers and starts dispatching. It returns ErrNoWorkers
// when the factory fails for every slot.
func New(factory Factory, opts ...Option) (*Pool, error) {
	p := &Pool{
		size:        runtime.GOMAXPROCS(0),
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		factory:     factory,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resultBuf == 0 {
		p.resultBuf = max(16, p.size*4)
	}
	// Every initial Ready must fit before the consumer starts reading.
	p.results = make(chan Message, max(p.resultBuf, p.size))
	p.replies = make(chan reply, p.size)

	slots := make([]*slot, p.size)
	var errs []error
	for i := range slots {
		slots[i] = &slot{id: i}
		if err := p.spawn(slots[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if p.live.Load() == 0 {
		close(p.done)
		return nil, fmt.Errorf("%w: %w", ErrNoWorkers, errors.Join(errs...))
	}
	for _, err := range errs {
		ggstream.Logger().Warn("parallel: worker init failed", "err", err)
	}

	p.wg.Add(1)
	go p.dispatch(slots)
	return p, nil
}

// Results returns the channel on which Complete, Error and Ready
// messages are delivered. It is closed by Close.
func (p *Pool) Results() <-chan Message {
	return p.results
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return p.size
}

// Timeout returns the per-task timeout.
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

// MaxAttempts returns how many times a timed-out task is dispatched.
func (p *Pool) MaxAttempts() int {
	return p.maxAttempts
}

// Submit queues a task and returns its assigned ID. Tasks queue without
// limit while all workers are busy.
func (p *Pool) Submit(t Task) (uint64, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	t.ID = p.nextID.Add(1)
	t.Attempt = 0
	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.submitted.Add(1)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return t.ID, nil
}

// Close stops the dispatcher and all workers and closes Results.
// Queued tasks are discarded and in-flight results are dropped.
// Workers stuck in a renderer are abandoned.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		close(p.done)
		p.wg.Wait()
		close(p.results)
	})
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()
	return Stats{
		Workers:   int(p.live.Load()),
		Busy:      int(p.busy.Load()),
		Queued:    queued,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Timeouts:  p.timeouts.Load(),
		Respawns:  p.respawns.Load(),
	}
}

// spawn starts a new worker generation in s.
func (p *Pool) spawn(s *slot) error {
	fn, err := p.factory(s.id)
	if err != nil {
		s.alive = false
		return fmt.Errorf("worker %d: %w", s.id, err)
	}
	s.gen++
	s.inbox = make(chan Task, 1)
	s.quit = make(chan struct{})
	s.alive = true
	s.task = nil
	p.live.Add(1)
	go p.work(s.id, s.gen, fn, s.inbox, s.quit)
	p.emit(Ready{Worker: s.id, Generation: s.gen})
	return nil
}

// retire abandons the current generation of s.
func (p *Pool) retire(s *slot) {
	if !s.alive {
		return
	}
	close(s.quit)
	s.alive = false
	if s.task != nil {
		p.busy.Add(-1)
		s.task = nil
	}
	p.live.Add(-1)
}

// work is the worker goroutine.
func (p *Pool) work(id int, gen uint64, fn RenderFunc, inbox <-chan Task, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-p.done:
			return
		case t := <-inbox:
			r := run(fn, t)
			r.worker, r.gen = id, gen
			select {
			case p.replies <- r:
			case <-quit:
				return
			case <-p.done:
				return
			}
		}
	}
}

func run(fn RenderFunc, t Task) (r reply) {
	start := time.Now()
	r.task = t
	defer func() {
		if v := recover(); v != nil {
			r.panic = v
			r.surface = nil
		}
		r.elapsed = time.Since(start)
	}()
	r.surface, r.status, r.err = fn(t)
	return r
}

// dispatch owns the slots. It assigns queued tasks to idle workers,
// forwards replies and enforces the task timeout.
func (p *Pool) dispatch(slots []*slot) {
	defer p.wg.Done()
	defer func() {
		for _, s := range slots {
			p.retire(s)
		}
	}()

	check := time.NewTicker(max(p.timeout/4, time.Millisecond))
	defer check.Stop()

	for {
		p.assign(slots)
		select {
		case <-p.done:
			return
		case <-p.wake:
		case r := <-p.replies:
			p.handle(slots[r.worker], r)
		case now := <-check.C:
			p.expire(slots, now)
		}
	}
}

// assign hands queued tasks to idle workers in slot order.
func (p *Pool) assign(slots []*slot) {
	for _, s := range slots {
		if !s.alive || s.task != nil {
			continue
		}
		t, ok := p.dequeue()
		if !ok {
			return
		}
		t.Attempt++
		s.task = &t
		s.deadline = time.Now().Add(p.timeout)
		p.busy.Add(1)
		s.inbox <- t
	}
	if p.live.Load() == 0 {
		p.failQueued()
	}
}

func (p *Pool) dequeue() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Task{}, false
	}
	t := p.queue[0]
	p.queue[0] = Task{}
	p.queue = p.queue[1:]
	return t, true
}

func (p *Pool) requeue(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.queue = append([]Task{t}, p.queue...)
	}
}

// failQueued reports every queued task as failed. It runs only when no
// worker slot is alive.
func (p *Pool) failQueued() {
	for {
		t, ok := p.dequeue()
		if !ok {
			return
		}
		p.failed.Add(1)
		p.emit(Error{Task: t, Err: ErrNoWorkers, Worker: -1})
	}
}

func (p *Pool) handle(s *slot, r reply) {
	if !s.alive || r.gen != s.gen || s.task == nil || s.task.ID != r.task.ID {
		return
	}
	s.task = nil
	p.busy.Add(-1)

	switch {
	case r.panic != nil:
		p.failed.Add(1)
		ggstream.Logger().Warn("parallel: renderer panicked",
			"worker", r.worker, "layer", r.task.LayerID, "panic", r.panic)
		p.emit(Error{Task: r.task, Err: fmt.Errorf("%w: %v", ErrPanic, r.panic), Worker: r.worker})
	case r.surface == nil:
		p.failed.Add(1)
		err := r.err
		if err == nil {
			err = errors.New("parallel: renderer returned no surface")
		}
		p.emit(Error{Task: r.task, Err: err, Worker: r.worker})
	default:
		p.completed.Add(1)
		p.emit(Complete{
			Task:    r.task,
			Surface: r.surface,
			Status:  r.status,
			Err:     r.err,
			Worker:  r.worker,
			Elapsed: r.elapsed,
		})
	}
}

// expire retires workers whose task is past its deadline, respawns them
// and requeues or fails their task.
func (p *Pool) expire(slots []*slot, now time.Time) {
	for _, s := range slots {
		if !s.alive || s.task == nil || now.Before(s.deadline) {
			continue
		}
		t := *s.task
		p.timeouts.Add(1)
		ggstream.Logger().Warn("parallel: worker timed out, respawning",
			"worker", s.id, "layer", t.LayerID, "attempt", t.Attempt, "timeout", p.timeout)
		p.retire(s)

		if err := p.spawn(s); err != nil {
			ggstream.Logger().Warn("parallel: respawn failed", "err", err)
		} else {
			p.respawns.Add(1)
		}

		if t.Attempt < p.maxAttempts {
			p.requeue(t)
			continue
		}
		p.failed.Add(1)
		p.emit(Error{
			Task:   t,
			Err:    fmt.Errorf("%w after %d attempts", ErrTimeout, t.Attempt),
			Worker: s.id,
		})
	}
}

// emit delivers m on Results, waiting for the consumer unless the pool
// is closing.
func (p *Pool) emit(m Message) {
	select {
	case p.results <- m:
	case <-p.done:
	}
}
