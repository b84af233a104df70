package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"question-collab/internal/crdt"
	"question-collab/internal/metrics"
	"question-collab/internal/models"

	"golang.org/x/sync/errgroup"
)

/*
LEARNING: ONE ACTOR PER DOCUMENT

The registry is the only place that creates, finds or evicts live documents.

Locks, always taken in this order:
  registry.mu  → map of actors (held for lookups/inserts only, never across I/O)
  actor.saveMu → serializes saves of one document
  actor.mu     → the CRDT instance, flush timer and attach count

Cross-document work never shares a lock, so documents proceed in parallel.
*/

// RegistryConfig tunes flushing and eviction.
type RegistryConfig struct {
	FlushDebounce    time.Duration
	SaveTimeout      time.Duration
	IdleTimeout      time.Duration
	EvictionInterval time.Duration
}

// DefaultRegistryConfig returns the production defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		FlushDebounce:    5 * time.Second,
		SaveTimeout:      10 * time.Second,
		IdleTimeout:      30 * time.Minute,
		EvictionInterval: 5 * time.Minute,
	}
}

// DocumentActor is the single in-memory authority for one document.
type DocumentActor struct {
	id string

	// ready is closed once hydration finished; initErr is set before that.
	ready   chan struct{}
	initErr error

	saveMu sync.Mutex

	mu         sync.Mutex
	doc        *crdt.Document
	timer      *time.Timer
	gen        uint64
	pending    bool // a debounce timer is armed
	dirty      bool // changes not yet saved
	attached   int
	lastActive time.Time
	evicted    bool
}

func newDocumentActor(id string, now time.Time) *DocumentActor {
	return &DocumentActor{
		id:         id,
		ready:      make(chan struct{}),
		doc:        crdt.NewDocument(),
		lastActive: now,
	}
}

// ID returns the document id.
func (a *DocumentActor) ID() string { return a.id }

// Attached returns the number of connections that synced this document and have not left.
func (a *DocumentActor) Attached() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

// PendingFlush reports whether a debounced flush is outstanding.
func (a *DocumentActor) PendingFlush() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Dirty reports whether the document has changes that were not saved yet.
func (a *DocumentActor) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// Materialize reads the current content under the actor lock.
func (a *DocumentActor) Materialize() (models.Fields, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc.Materialize()
}

// Registry owns every live document actor of this process.
type Registry struct {
	store DocumentStore
	cfg   RegistryConfig
	now   func() time.Time

	mu       sync.Mutex
	actors   map[string]*DocumentActor
	evicting map[string]chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	loopWG   sync.WaitGroup
}

// NewRegistry creates an empty registry. Call Start to run idle eviction.
func NewRegistry(store DocumentStore, cfg RegistryConfig) *Registry {
	return &Registry{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		actors:   make(map[string]*DocumentActor),
		evicting: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic idle eviction loop.
func (r *Registry) Start() {
	r.loopWG.Add(1)
	go r.evictionLoop()
	log.Printf("✓ Document registry started (debounce %s, idle %s)", r.cfg.FlushDebounce, r.cfg.IdleTimeout)
}

// Len returns the number of live actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// GetOrCreate returns the live actor for documentID, creating and hydrating
// it from the store if needed. Concurrent first callers share one creation.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) (*DocumentActor, error) {
	return r.acquire(ctx, documentID, false, false)
}

// Attach is GetOrCreate plus one attached connection.
// Every successful Attach must be paired with Detach.
func (r *Registry) Attach(ctx context.Context, documentID string) (*DocumentActor, error) {
	return r.acquire(ctx, documentID, true, false)
}

// Detach drops one attached connection from the document.
func (r *Registry) Detach(documentID string) {
	r.mu.Lock()
	a, ok := r.actors[documentID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.release(a)
}

func (r *Registry) release(a *DocumentActor) {
	a.mu.Lock()
	if a.attached > 0 {
		a.attached--
	}
	a.lastActive = r.now()
	a.mu.Unlock()
}

// acquire finds or creates the actor. With mustExist, a document missing from
// the store is reported as ErrNotFound instead of starting empty.
func (r *Registry) acquire(ctx context.Context, documentID string, attach, mustExist bool) (*DocumentActor, error) {
	for {
		r.mu.Lock()
		if wait, ok := r.evicting[documentID]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		a, exists := r.actors[documentID]
		if !exists {
			a = newDocumentActor(documentID, r.now())
			r.actors[documentID] = a
			metrics.LiveDocuments.Inc()
		}
		if attach {
			// Counted while registry.mu is held so eviction cannot slip in between.
			a.mu.Lock()
			a.attached++
			a.lastActive = r.now()
			a.mu.Unlock()
		}
		r.mu.Unlock()

		if !exists {
			r.hydrate(ctx, a, mustExist)
		}

		select {
		case <-a.ready:
		case <-ctx.Done():
			if attach {
				r.release(a)
			}
			return nil, ctx.Err()
		}

		if a.initErr != nil {
			return nil, a.initErr
		}
		return a, nil
	}
}

// hydrate runs exactly once per actor, by the goroutine that created it.
func (r *Registry) hydrate(ctx context.Context, a *DocumentActor, mustExist bool) {
	defer close(a.ready)

	// The load must not be abandoned because the first joiner went away;
	// other joiners may be waiting on the same actor.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SaveTimeout)
	defer cancel()

	fields, err := r.store.Load(loadCtx, a.id)
	if errors.Is(err, models.ErrNotFound) && !mustExist {
		log.Printf("  Document %s not in store, starting empty", a.id)
		fields, err = models.Fields{}, nil
	}
	if err == nil {
		a.mu.Lock()
		err = a.doc.Hydrate(a.id, fields)
		a.mu.Unlock()
	}
	if err == nil {
		log.Printf("  Document %s hydrated", a.id)
		return
	}

	log.Printf("⚠️  Failed to hydrate document %s: %v", a.id, err)
	r.mu.Lock()
	if r.actors[a.id] == a {
		delete(r.actors, a.id)
		metrics.LiveDocuments.Dec()
	}
	r.mu.Unlock()
	a.initErr = fmt.Errorf("hydrate document %s: %w", a.id, err)
}

// Lookup returns an existing, hydrated actor without creating one.
func (r *Registry) Lookup(ctx context.Context, documentID string) (*DocumentActor, error) {
	r.mu.Lock()
	a, ok := r.actors[documentID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("document %s not loaded: %w", documentID, models.ErrNotFound)
	}

	select {
	case <-a.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if a.initErr != nil {
		return nil, fmt.Errorf("document %s not loaded: %w", documentID, models.ErrNotFound)
	}
	return a, nil
}

// Sync merges an optional client state into the document and returns the full state.
// broadcast runs only when a state was merged, while the document is still locked.
func (r *Registry) Sync(ctx context.Context, documentID string, state []byte, broadcast func()) ([]byte, error) {
	a, err := r.lockLive(ctx, documentID, false)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	if len(state) > 0 {
		if err := a.doc.ApplyUpdate(state); err != nil {
			return nil, models.NewProtocolError("invalid sync state: %v", err)
		}
		a.lastActive = r.now()
		r.scheduleFlushLocked(a)
		metrics.UpdatesApplied.WithLabelValues("sync").Inc()
		if broadcast != nil {
			broadcast()
		}
	}

	return a.doc.EncodeState(), nil
}

// lockLive returns a hydrated actor with its lock held. An actor that was
// evicted between lookup and lock is reloaded.
func (r *Registry) lockLive(ctx context.Context, documentID string, mustExist bool) (*DocumentActor, error) {
	for {
		a, err := r.acquire(ctx, documentID, false, mustExist)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		if !a.evicted {
			return a, nil
		}
		a.mu.Unlock()
	}
}

// ApplyAndBroadcast merges an update, schedules a flush and then calls broadcast.
// broadcast runs under the actor lock, so peers see updates in apply order.
// The registry never talks to connections itself.
// A document that is not live is reloaded; one missing from the store is ErrNotFound.
func (r *Registry) ApplyAndBroadcast(ctx context.Context, documentID string, update []byte, broadcast func()) error {
	a, err := r.lockLive(ctx, documentID, true)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()

	if err := a.doc.ApplyUpdate(update); err != nil {
		return models.NewProtocolError("invalid update: %v", err)
	}

	a.lastActive = r.now()
	r.scheduleFlushLocked(a)
	metrics.UpdatesApplied.WithLabelValues("local").Inc()

	if broadcast != nil {
		broadcast()
	}
	return nil
}

// ApplyRemote merges an update relayed from another process. No flush is
// scheduled; the origin process owns that save.
// Without a live actor the update is only broadcast.
func (r *Registry) ApplyRemote(documentID string, update []byte, broadcast func()) error {
	r.mu.Lock()
	a, ok := r.actors[documentID]
	r.mu.Unlock()

	if ok {
		<-a.ready
	}
	if !ok || a.initErr != nil {
		if broadcast != nil {
			broadcast()
		}
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.evicted {
		if err := a.doc.ApplyUpdate(update); err != nil {
			return models.NewProtocolError("invalid remote update: %v", err)
		}
		a.lastActive = r.now()
		metrics.UpdatesApplied.WithLabelValues("remote").Inc()
	}
	if broadcast != nil {
		broadcast()
	}
	return nil
}

// ScheduleFlush (re)starts the debounce timer of a live document.
func (r *Registry) ScheduleFlush(documentID string) {
	r.mu.Lock()
	a, ok := r.actors[documentID]
	r.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	r.scheduleFlushLocked(a)
	a.mu.Unlock()
}

// scheduleFlushLocked cancels the pending timer and starts a new one.
// The generation guards against a timer that fired but has not run yet.
func (r *Registry) scheduleFlushLocked(a *DocumentActor) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.pending = true
	a.dirty = true
	a.timer = time.AfterFunc(r.cfg.FlushDebounce, func() {
		_ = r.flush(context.Background(), a, gen, false)
	})
}

// FlushNow saves a document immediately if it has unsaved changes.
func (r *Registry) FlushNow(ctx context.Context, documentID string) error {
	r.mu.Lock()
	a, ok := r.actors[documentID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.flush(ctx, a, 0, true)
}

// flush materializes and saves the document. A timer flush (force=false)
// only runs if its generation is still current. The timer slot is cleared
// either way; dirty is cleared only by a successful save of the latest
// generation, so eviction and shutdown retry a failed save.
func (r *Registry) flush(ctx context.Context, a *DocumentActor, gen uint64, force bool) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if !a.dirty || (!force && gen != a.gen) {
		a.mu.Unlock()
		return nil
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = false
	saved := a.gen
	fields, err := a.doc.Materialize()
	a.mu.Unlock()

	if err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		log.Printf("⚠️  Failed to materialize document %s: %v", a.id, err)
		return err
	}

	saveCtx, cancel := context.WithTimeout(ctx, r.cfg.SaveTimeout)
	defer cancel()

	start := time.Now()
	err = r.store.Save(saveCtx, a.id, fields)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		log.Printf("⚠️  Failed to save document %s: %v", a.id, err)
		return fmt.Errorf("save document %s: %w", a.id, err)
	}

	a.mu.Lock()
	if a.gen == saved {
		a.dirty = false
	}
	a.mu.Unlock()

	metrics.Flushes.WithLabelValues("ok").Inc()
	log.Printf("  Saved document %s", a.id)
	return nil
}

func (r *Registry) evictionLoop() {
	defer r.loopWG.Done()

	ticker := time.NewTicker(r.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if n := r.EvictIdle(context.Background()); n > 0 {
				log.Printf("  Evicted %d idle documents (%d live)", n, r.Len())
			}
		}
	}
}

// EvictIdle removes actors with no attached connections that have been idle
// longer than IdleTimeout. Pending changes are flushed first; an actor whose
// flush fails is put back and retried on the next cycle.
func (r *Registry) EvictIdle(ctx context.Context) int {
	now := r.now()
	var victims []*DocumentActor

	r.mu.Lock()
	for id, a := range r.actors {
		select {
		case <-a.ready:
		default:
			continue // still hydrating
		}

		a.mu.Lock()
		idle := a.attached == 0 && now.Sub(a.lastActive) >= r.cfg.IdleTimeout
		if idle {
			a.evicted = true
		}
		a.mu.Unlock()

		if idle {
			delete(r.actors, id)
			r.evicting[id] = make(chan struct{})
			victims = append(victims, a)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, a := range victims {
		err := r.flush(ctx, a, 0, true)

		r.mu.Lock()
		if err != nil {
			a.mu.Lock()
			a.evicted = false
			a.mu.Unlock()
			r.actors[a.id] = a
			log.Printf("⚠️  Keeping document %s in memory, flush before eviction failed", a.id)
		} else {
			metrics.LiveDocuments.Dec()
			metrics.Evictions.Inc()
			evicted++
		}
		close(r.evicting[a.id])
		delete(r.evicting, a.id)
		r.mu.Unlock()
	}

	return evicted
}

// Shutdown stops eviction and drains every pending flush, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	log.Println("🛑 Draining document flushes...")

	r.stopOnce.Do(func() { close(r.done) })
	r.loopWG.Wait()

	r.mu.Lock()
	actors := make([]*DocumentActor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, a := range actors {
		a := a
		g.Go(func() error {
			return r.flush(ctx, a, 0, true)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("drain flushes: %w", err)
		}
		log.Printf("✓ Drained %d documents", len(actors))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain flushes: %w", ctx.Err())
	}
}
