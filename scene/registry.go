// Package scene owns the layer state of a composited scene.
//
// A Registry is the single writer of LayerState. It assigns ids and
// z-order, deduplicates semantically identical layers, emits a typed
// Event after every mutation and, when configured with a store, persists
// a snapshot of the state after changes. Readers receive deep copies, so
// a mutation never affects a snapshot already handed out.
package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/layer"
	"github.com/gogpu/ggstream/store"
)

// Errors returned by Registry operations.
var (
	// ErrNotFound is returned when no layer has the given id.
	ErrNotFound = errors.New("scene: layer not found")

	// ErrDuplicate is returned when an update would make a layer identical
	// to another existing layer.
	ErrDuplicate = errors.New("scene: duplicate layer")

	// ErrUnknownAnimation is returned by SetAnimation for names missing
	// from the animation table.
	ErrUnknownAnimation = errors.New("scene: unknown animation")

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("scene: registry closed")
)

type entry struct {
	layer    *layer.Layer
	seq      uint64 // insertion order, breaks z-index ties
	identity string
}

// Registry holds the current set of layers.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	identities map[string]string // identity key -> layer id
	active     string
	seq        uint64
	version    uint64
	closed     bool

	hub   *hub
	opts  options
	saver *persister
}

// New creates a Registry. When a store is configured with WithStore, the
// previous LayerState is restored from it; a missing record starts empty,
// and any other failure is returned because the registry cannot run with
// unknown state.
func New(ctx context.Context, opts ...Option) (*Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{
		entries:    make(map[string]*entry),
		identities: make(map[string]string),
		hub:        newHub(),
		opts:       o,
	}
	if o.store == nil {
		return r, nil
	}
	if err := r.restore(ctx); err != nil {
		return nil, err
	}
	r.saver = newPersister(r, o.store, o.stateKey, o.debounce)
	return r, nil
}

func (r *Registry) restore(ctx context.Context) error {
	data, err := r.opts.store.Get(ctx, r.opts.stateKey)
	if errors.Is(err, store.ErrNotFound) {
		ggstream.Logger().Info("scene: no stored state, starting empty", "key", r.opts.stateKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("scene: restore: %w", err)
	}
	st, err := DecodeState(data)
	if err != nil {
		return fmt.Errorf("scene: restore: %w", err)
	}
	for _, l := range st.Layers {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("scene: restore layer %q: %w", l.ID, err)
		}
		l.Normalize()
		r.insert(l)
	}
	r.active = st.ActiveLayerID
	r.version++
	ggstream.Logger().Info("scene: state restored", "layers", len(st.Layers), "active", r.active)
	return nil
}

// insert adds l under its identity. Callers hold r.mu or own r exclusively.
func (r *Registry) insert(l *layer.Layer) {
	r.seq++
	id := l.IdentityKey()
	r.entries[l.ID] = &entry{layer: l, seq: r.seq, identity: id}
	if _, taken := r.identities[id]; !taken {
		r.identities[id] = l.ID
	}
}

// emit publishes an event for the current version. Callers hold r.mu.
func (r *Registry) emit(kind ChangeKind, l *layer.Layer) {
	e := Event{Kind: kind, Version: r.version, At: r.opts.now()}
	if l != nil {
		e.LayerID = l.ID
		e.LayerKind = l.Kind
	}
	r.hub.publish(e)
}

// Create adds a layer with the given kind and content and returns a copy
// of it. If a layer with the same kind and identity fields already exists
// (same model and texture, same overlay kind and content, same chat
// policy, ...), that layer is returned instead and created is false.
//
// Without WithZIndex the layer is placed on top (NextZIndex).
func (r *Registry) Create(kind layer.Kind, content layer.Content, opts ...CreateOption) (l *layer.Layer, created bool, err error) {
	n := layer.New("", kind, content)
	var zSet bool
	for _, opt := range opts {
		opt(n, &zSet)
	}
	if err := n.Validate(); err != nil {
		return nil, false, fmt.Errorf("scene: create: %w", err)
	}
	n.Content = n.Content.Clone()
	n.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	if id, ok := r.identities[n.IdentityKey()]; ok {
		return r.entries[id].layer.Clone(), false, nil
	}
	if n.ID == "" {
		n.ID = r.opts.newID()
	}
	if _, exists := r.entries[n.ID]; exists {
		return nil, false, fmt.Errorf("%w: id %q", ErrDuplicate, n.ID)
	}
	if !zSet {
		n.ZIndex = r.nextZIndexLocked()
	}
	r.insert(n)
	r.version++
	r.emit(ChangeCreated, n)
	ggstream.Logger().Debug("scene: layer created", "id", n.ID, "name", n.Name, "kind", n.Kind, "z", n.ZIndex)
	return n.Clone(), true, nil
}

// mutate applies fn to a copy of the layer and commits it when fn
// succeeds and the result is valid.
func (r *Registry) mutate(id string, kind ChangeKind, fn func(l *layer.Layer) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	next := e.layer.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.ID = id
	next.Normalize()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("scene: update %q: %w", id, err)
	}
	ident := next.IdentityKey()
	if ident != e.identity {
		if other, taken := r.identities[ident]; taken && other != id {
			return fmt.Errorf("%w: %q matches %q", ErrDuplicate, id, other)
		}
		if r.identities[e.identity] == id {
			delete(r.identities, e.identity)
		}
		r.identities[ident] = id
		e.identity = ident
	}
	e.layer = next
	r.version++
	r.emit(kind, next)
	return nil
}

// Update applies fn to a copy of the layer with the given id. The layer
// kind may not change and the id is preserved; the layer is normalized
// after fn returns (opacity clamped, chat trimmed to its limit). An error from fn aborts the update.
func (r *Registry) Update(id string, fn func(l *layer.Layer) error) error {
	return r.mutate(id, ChangeUpdated, func(l *layer.Layer) error {
		kind := l.Kind
		if err := fn(l); err != nil {
			return err
		}
		if l.Kind != kind {
			return fmt.Errorf("scene: update %q: kind change %s -> %s: %w", id, kind, l.Kind, layer.ErrKindMismatch)
		}
		return nil
	})
}

// SetVisibility shows or hides a layer.
func (r *Registry) SetVisibility(id string, visible bool) error {
	return r.mutate(id, ChangeVisibility, func(l *layer.Layer) error {
		l.Visible = visible
		return nil
	})
}

// SetTransform replaces the transform of a layer.
func (r *Registry) SetTransform(id string, t layer.Transform) error {
	return r.mutate(id, ChangeTransform, func(l *layer.Layer) error {
		l.Transform = t
		return nil
	})
}

// SetZIndex moves a layer in the draw order.
func (r *Registry) SetZIndex(id string, z int) error {
	return r.mutate(id, ChangeZIndex, func(l *layer.Layer) error {
		l.ZIndex = z
		return nil
	})
}

// SetOpacity sets the opacity of a layer, clamped to [0, 1].
func (r *Registry) SetOpacity(id string, opacity float64) error {
	return r.mutate(id, ChangeOpacity, func(l *layer.Layer) error {
		l.SetOpacity(opacity)
		return nil
	})
}

// AppendChat appends messages to a chat layer, evicting the oldest
// entries beyond its limit.
func (r *Registry) AppendChat(id string, msgs ...layer.Message) error {
	return r.mutate(id, ChangeUpdated, func(l *layer.Layer) error {
		c, ok := l.Content.(*layer.Chat)
		if !ok {
			return fmt.Errorf("scene: append chat to %s layer %q: %w", l.Kind, id, layer.ErrKindMismatch)
		}
		stamped := slices.Clone(msgs)
		for i := range stamped {
			if stamped[i].At.IsZero() {
				stamped[i].At = r.opts.now()
			}
		}
		c.Append(stamped...)
		return nil
	})
}

// SetAnimation selects the current animation of a character layer. An
// empty name selects the whole model image.
func (r *Registry) SetAnimation(id, name string) error {
	return r.mutate(id, ChangeUpdated, func(l *layer.Layer) error {
		c, ok := l.Content.(*layer.Character)
		if !ok {
			return fmt.Errorf("scene: set animation on %s layer %q: %w", l.Kind, id, layer.ErrKindMismatch)
		}
		if name != "" {
			if _, ok := c.Animations[name]; !ok {
				return fmt.Errorf("%w: %q on layer %q", ErrUnknownAnimation, name, id)
			}
		}
		c.Current = name
		return nil
	})
}

// Delete removes a layer and reports whether it existed. Deleting the
// active layer clears the active id.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	if r.identities[e.identity] == id {
		delete(r.identities, e.identity)
		// Another layer with the same identity (restored state) takes over.
		for oid, oe := range r.entries {
			if oe.identity == e.identity {
				r.identities[e.identity] = oid
				break
			}
		}
	}
	if r.active == id {
		r.active = ""
	}
	r.version++
	r.emit(ChangeDeleted, e.layer)
	return true
}

// SetActive marks a layer as active. An empty id clears the active layer.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	var l *layer.Layer
	if id != "" {
		e, ok := r.entries[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		l = e.layer
	}
	r.active = id
	r.version++
	r.emit(ChangeActive, l)
	return nil
}

// Active returns the active layer id, or "" when none is set.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Clear removes every layer.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	clear(r.entries)
	clear(r.identities)
	r.active = ""
	r.version++
	r.emit(ChangeCleared, nil)
}

// NextZIndex returns one above the highest z-index in use, or 0 when the
// registry is empty.
func (r *Registry) NextZIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextZIndexLocked()
}

func (r *Registry) nextZIndexLocked() int {
	if len(r.entries) == 0 {
		return 0
	}
	top := -1 << 31
	for _, e := range r.entries {
		top = max(top, e.layer.ZIndex)
	}
	return top + 1
}

// Get returns a copy of the layer with the given id.
func (r *Registry) Get(id string) (*layer.Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.layer.Clone(), true
}

// GetAll returns copies of all layers in composite order: ascending
// z-index, ties broken by insertion order.
func (r *Registry) GetAll() []*layer.Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.sortedLocked(byComposite))
}

// Len returns the number of layers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Version returns a counter incremented by every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Snapshot returns a copy of the whole state with layers in insertion
// order, the form that is persisted.
func (r *Registry) Snapshot() *LayerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &LayerState{
		Layers:        cloneAll(r.sortedLocked(byInsertion)),
		ActiveLayerID: r.active,
	}
}

// Subscribe returns a subscription receiving an Event after every
// mutation. A non-positive buffer uses DefaultSubscriptionBuffer.
func (r *Registry) Subscribe(buffer int) *Subscription {
	return r.hub.subscribe(buffer)
}

// Flush writes the current state to the store immediately. It is a no-op
// without a store.
func (r *Registry) Flush(ctx context.Context) error {
	if r.saver == nil {
		return nil
	}
	return r.saver.write(ctx)
}

// Close stops persistence after writing any pending change and closes all
// subscriptions. Subsequent mutations return ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var err error
	if r.saver != nil {
		err = r.saver.close()
	}
	r.hub.closeAll()
	return err
}

func byComposite(a, b *entry) int {
	if a.layer.ZIndex != b.layer.ZIndex {
		if a.layer.ZIndex < b.layer.ZIndex {
			return -1
		}
		return 1
	}
	return byInsertion(a, b)
}

func byInsertion(a, b *entry) int {
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

func (r *Registry) sortedLocked(cmp func(a, b *entry) int) []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, cmp)
	return out
}

func cloneAll(es []*entry) []*layer.Layer {
	out := make([]*layer.Layer, len(es))
	for i, e := range es {
		out[i] = e.layer.Clone()
	}
	return out
}

// options configures a Registry.
type options struct {
	store    store.Store
	stateKey string
	debounce time.Duration
	now      func() time.Time
	newID    func() string
}

func defaultOptions() options {
	return options{
		stateKey: DefaultStateKey,
		debounce: DefaultPersistDelay,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Option configures a Registry.
type Option func(*options)

// WithStore restores state from s on creation and persists changes to it.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithStateKey sets the store key of the persisted state.
func WithStateKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.stateKey = key
		}
	}
}

// WithPersistDelay sets how long the registry waits for further changes
// before writing a snapshot.
func WithPersistDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithClock sets the time source used for event and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the function generating ids of new layers.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// CreateOption configures a layer passed to Create.
type CreateOption func(l *layer.Layer, zSet *bool)

// WithID requests a specific layer id instead of a generated one.
func WithID(id string) CreateOption {
	return func(l *layer.Layer, _ *bool) { l.ID = id }
}

// WithName sets the display name of the layer.
func WithName(name string) CreateOption {
	return func(l *layer.Layer, _ *bool) { l.Name = name }
}

// WithZIndex places the layer at z instead of on top.
func WithZIndex(z int) CreateOption {
	return func(l *layer.Layer, zSet *bool) {
		l.ZIndex = z
		*zSet = true
	}
}

// WithVisible sets the initial visibility.
func WithVisible(v bool) CreateOption {
	return func(l *layer.Layer, _ *bool) { l.Visible = v }
}

// WithOpacity sets the initial opacity, clamped to [0, 1].
func WithOpacity(v float64) CreateOption {
	return func(l *layer.Layer, _ *bool) { l.SetOpacity(v) }
}

// WithTransform sets the initial transform.
func WithTransform(t layer.Transform) CreateOption {
	return func(l *layer.Layer, _ *bool) { l.Transform = t }
}

// WithSize sets the surface size of the layer. Zero means the full frame.
func WithSize(w, h int) CreateOption {
	return func(l *layer.Layer, _ *bool) { l.Size = layer.Size{Width: w, Height: h} }
}
