package parallel

import (
	"time"

	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/render"
)

// Message is one of the values exchanged between the pool and its
// workers: Task travels to a worker, Complete, Error and Ready travel
// back on Pool.Results.
type Message interface {
	message()
}

// Task asks a worker to render one layer at its native size.
type Task struct {
	// ID is assigned by Pool.Submit.
	ID uint64

	LayerID   string
	Kind      layer.Kind
	Content   layer.Content
	Transform layer.Transform
	Width     int
	Height    int

	// Key is the render cache key of the layer the task was built from.
	Key uint64

	// Attempt counts dispatches of this task, starting at 1.
	Attempt int
}

// Complete carries a rendered sub-surface back from a worker.
type Complete struct {
	Task    Task
	Surface *cache.Surface
	Status  render.Status
	// Err is set when the renderer drew a placeholder for a resource
	// error. The surface is still usable for this frame.
	Err     error
	Worker  int
	Elapsed time.Duration
}

// Error reports a task that produced no surface: the renderer panicked,
// or every attempt timed out.
type Error struct {
	Task   Task
	Err    error
	Worker int
}

// Ready reports a worker that has been spawned or respawned and is
// accepting tasks.
type Ready struct {
	Worker     int
	Generation uint64
}

func (Task) message()     {}
func (Complete) message() {}
func (Error) message()    {}
func (Ready) message()    {}
