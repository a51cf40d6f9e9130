// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler defines the worker-pool contract the Coordinator
// core consumes (spec §6's "Scheduler" collaborator interface) and a
// default in-memory implementation of it.
//
// The interface itself is the core's surface; Default is a reference
// policy grounded on original_source/pysrc/scheduler.py's
// Scheduler class and worker_cache.py's LRUCache, with the SSH/
// paramiko blob-store connection step and live worker-subprocess
// spawning dropped — both address external collaborators (the blob
// store and the process supervisor) the core never touches directly.
package scheduler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/seccask/seccask/internal/manifest"
)

// ErrPoolFull is returned by GetCompatibleWorkerSync when the active
// pool is already at capacity and no compatible cached worker exists.
// Grounded on scheduler.py's WorkerPoolFull exception.
var ErrPoolFull = errors.New("scheduler: worker pool is full")

// Worker is the scheduler's handle for one Worker connection. The
// Coordinator core treats this handle as opaque (spec §3's
// "WorkerEntry... plus a scheduler handle (opaque to the core)") —
// it only ever passes an ID string back over the wire.
type Worker struct {
	mu       sync.Mutex
	id       string
	manifest *manifest.Environment
}

// NewWorker constructs a scheduler handle for a newly identified
// worker. The manifest is nil until the worker's first
// response_manifest is recorded via SetManifest.
func NewWorker(id string) *Worker {
	return &Worker{id: id}
}

// ID returns the worker's connection id.
func (w *Worker) ID() string {
	return w.id
}

// SetManifest records the worker's most recently reported environment.
func (w *Worker) SetManifest(env manifest.Environment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.manifest = &env
}

// Manifest returns the worker's most recently reported environment,
// or nil if none has been recorded yet.
func (w *Worker) Manifest() *manifest.Environment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest
}

func (w *Worker) String() string {
	return fmt.Sprintf("Worker(%s)", w.id)
}

// Component is the scheduling-relevant metadata for a pending pipeline
// step: enough for a compatibility policy to decide whether an
// existing worker's loaded environment can run it without a fresh
// cold start. Grounded on pipeline.py's Component.get_manifest().
type Component struct {
	ID           string
	Name         string
	Version      string
	PackagesHash string
	Packages     map[string]string
}

// Interface is the contract the Coordinator core consumes (spec §6).
// Callbacks passed to OnWorkerReady and GetCompatibleWorkerSync are
// invoked on the caller's lifecycle serializer, never concurrently
// with the call that registered them.
type Interface interface {
	AddNewWorker(id string) *Worker
	GetWorker(id string) (*Worker, bool)
	OnWorkerReady(worker *Worker, onAssigned func(Component))
	CacheWorker(worker *Worker)
	GetCompatibleWorkerSync(component Component, onFound func(workerID string)) error
	OnCacheFull() (workerID string, ok bool)
}

// Default is an in-memory worker pool: an LRU-ordered active set, an
// LRU-ordered cached set, and a list of newly-connected-but-not-yet-
// ready workers. Grounded on scheduler.py's _active_workers /
// _cached_workers (worker_cache.LRUCache) and _new_workers.
//
// Default is safe for concurrent use; all mutation happens under a
// single mutex, matching the Coordinator's lifecycle-serializer
// invariant that only one lifecycle step runs at a time.
type Default struct {
	mu     sync.Mutex
	logger *slog.Logger

	maxSlots int

	newWorkers []*Worker
	active     *lru
	cached     *lru

	waiting []Component

	// evictedForCacheFull holds the id of the worker most recently
	// evicted from the cached pool to make room, until OnCacheFull
	// consumes it. Grounded on scheduler.py's synchronous
	// cpp_coordinator.on_cache_full(w.id) call, adapted to an explicit
	// return value per spec §9's "shared mutable globals" guidance
	// instead of a direct cross-package callback.
	evictedForCacheFull string

	// compatibilityCheck, when true, runs the three-level manifest
	// compatibility check from scheduler.py's is_compatible. When
	// false, any cached worker is reused unconditionally (the
	// "__debug_singleton_worker" behavior).
	compatibilityCheck bool
}

// Option configures a Default scheduler.
type Option func(*Default)

// WithLogger sets the structured logger used for pool-state tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Default) { d.logger = logger }
}

// WithCompatibilityCheck enables or disables the three-level manifest
// compatibility check on cached-worker reuse. Disabled, any cached
// worker satisfies any component (single-worker-reuse mode).
func WithCompatibilityCheck(enabled bool) Option {
	return func(d *Default) { d.compatibilityCheck = enabled }
}

// NewDefault constructs an in-memory scheduler with room for maxSlots
// workers total across the active and cached pools.
func NewDefault(maxSlots int, opts ...Option) *Default {
	d := &Default{
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSlots:           maxSlots,
		active:             newLRU(),
		cached:             newLRU(),
		compatibilityCheck: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddNewWorker registers a freshly-connected worker id, grounded on
// scheduler.py's add_new_worker.
func (d *Default) AddNewWorker(id string) *Worker {
	d.mu.Lock()
	defer d.mu.Unlock()

	worker := NewWorker(id)
	d.newWorkers = append(d.newWorkers, worker)
	return worker
}

// GetWorker scans the new, active, and cached pools for id, grounded
// on scheduler.py's get_worker linear itertools.chain scan.
func (d *Default) GetWorker(id string) (*Worker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range d.newWorkers {
		if w.id == id {
			return w, true
		}
	}
	if w, ok := d.active.get(id); ok {
		return w, true
	}
	if w, ok := d.cached.get(id); ok {
		return w, true
	}
	return nil, false
}

// OnWorkerReady moves worker into the cached pool and, if any pending
// component is compatible with it, activates the worker and invokes
// onAssigned with that component — grounded on scheduler.py's
// on_worker_ready.
func (d *Default) OnWorkerReady(worker *Worker, onAssigned func(Component)) {
	d.mu.Lock()

	d.cached.add(worker)

	var assigned *Component
	for i, component := range d.waiting {
		if d.compatibilityCheck && !isCompatible(worker, component) {
			continue
		}
		d.waiting = append(d.waiting[:i], d.waiting[i+1:]...)
		d.removeFromNewWorkers(worker)
		d.cached.remove(worker.id)
		d.active.add(worker)
		recordLastExecutedComponent(worker, component)
		assigned = &component
		break
	}
	d.logPools()
	d.mu.Unlock()

	if assigned != nil {
		onAssigned(*assigned)
	}
}

// CacheWorker moves worker from active back to cached, grounded on
// scheduler.py's cache_worker.
func (d *Default) CacheWorker(worker *Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active.remove(worker.id)
	d.cached.add(worker)
}

// GetCompatibleWorkerSync looks for an immediately-usable cached
// worker; if found, onFound is invoked synchronously before this call
// returns (spec §4.4.2.b: "on_found(worker_id) fires synchronously").
// Otherwise component is recorded as waiting for the next ready
// worker, and nil is returned — the match will instead happen through
// OnWorkerReady. Grounded on scheduler.py's
// get_compatible_worker_sync.
func (d *Default) GetCompatibleWorkerSync(component Component, onFound func(workerID string)) error {
	d.mu.Lock()

	for _, worker := range d.cached.values() {
		if d.compatibilityCheck && !isCompatible(worker, component) {
			continue
		}
		d.cached.remove(worker.id)
		d.active.add(worker)
		recordLastExecutedComponent(worker, component)
		d.logPools()
		d.mu.Unlock()

		onFound(worker.id)
		return nil
	}

	if d.active.len() >= d.maxSlots {
		d.mu.Unlock()
		return ErrPoolFull
	}

	if d.active.len()+d.cached.len() >= d.maxSlots {
		if evicted, ok := d.cached.removeOldest(); ok {
			d.logger.Debug("evicting cached worker to make room", "worker", evicted.id)
			d.evictedForCacheFull = evicted.id
		}
	}

	d.waiting = append(d.waiting, component)
	d.logger.Debug("component waiting for a worker", "component", component.ID)
	d.mu.Unlock()
	return nil
}

// OnCacheFull reports and clears the id of the most recently evicted
// cached worker, if any, so the Coordinator can send it exit (spec
// §4.4: "on_cache_full(worker_id) is invoked by the scheduler when its
// cache needs to evict").
func (d *Default) OnCacheFull() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.evictedForCacheFull == "" {
		return "", false
	}
	id := d.evictedForCacheFull
	d.evictedForCacheFull = ""
	return id, true
}

func (d *Default) removeFromNewWorkers(worker *Worker) {
	for i, w := range d.newWorkers {
		if w == worker {
			d.newWorkers = append(d.newWorkers[:i], d.newWorkers[i+1:]...)
			return
		}
	}
}

func (d *Default) logPools() {
	d.logger.Debug("worker pools",
		"active", d.active.ids(),
		"cached", d.cached.ids(),
	)
}

// isCompatible implements scheduler.py's three-level compatibility
// check: exact name+version match, else packages-hash match, else
// every package version the component requires is present in the
// worker's currently loaded set.
func isCompatible(worker *Worker, component Component) bool {
	env := worker.Manifest()
	if env == nil {
		return false
	}

	if env.Name == component.Name && env.Version == component.Version {
		return true
	}

	if component.PackagesHash != "" && env.PackagesHash == component.PackagesHash {
		return true
	}

	for name, version := range component.Packages {
		if env.Packages[name] != version {
			return false
		}
	}
	return true
}

func recordLastExecutedComponent(worker *Worker, component Component) {
	env := worker.Manifest()
	if env == nil {
		return
	}
	env.Name = component.Name
	env.Version = component.Version
	worker.SetManifest(*env)
}
