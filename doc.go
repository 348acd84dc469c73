// Package ggstream composites a live, multi-layer scene into a stream of
// video frames.
//
// # Overview
//
// A scene is a set of layers (character avatars, a visual feed panel,
// text/image/shape overlays and a scrolling chat feed) owned by a
// [scene.Registry]. A [loop.Loop] ticks at a target frame rate, takes a
// copy-on-read snapshot of the registry, renders each visible layer into
// a sub-surface (reusing cached sub-surfaces when nothing changed), and
// composites the results in ascending z-order onto a single frame that is
// handed to a [sink.Sink].
//
// # Architecture
//
// The module is organized into:
//   - layer: the layer data model (variants, transform, cache keys)
//   - scene: the layer registry, change events and persistence
//   - store: the key-value boundary used for persisted layer state
//   - asset: resource loading with TTL caching and load deduplication
//   - render: per-variant content renderers built on gogpu/gg
//   - cache: sharded TTL cache and rendered sub-surface cache
//   - internal/parallel: the render worker pool
//   - loop: the composition loop, backpressure and health
//   - metrics, sink, config: operational boundaries
//
// Drawing is done with github.com/gogpu/gg; frames are CPU pixel buffers
// in RGBA order.
//
// # Logging
//
// ggstream is silent by default. Use [SetLogger] to route its log output
// into an application's slog handler.
package ggstream

// Version is the current version of the module.
const Version = "0.3.0"
