// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator implements the Coordinator core: the accept
// loop, worker registry, command dispatch table, and pipeline
// lifecycle spec §4.4 and §5 describe.
//
// Grounded on original_source/csrc/coordinator.cc's DoAccept/
// DoActionFromMsg/OnNewPipeline/OnNewComponent, replacing the
// pybind11-embedded-interpreter calls into scheduler.py/
// daemon/coordinator.py with direct calls into internal/scheduler and
// internal/taskmonitor, and replacing the g_lifecycle_mutex
// double-lock dance with the oneshot-channel gate spec §9 recommends.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/seccask/seccask/internal/manifest"
	"github.com/seccask/seccask/internal/scheduler"
	"github.com/seccask/seccask/internal/taskmonitor"
	"github.com/seccask/seccask/lib/attestation"
	"github.com/seccask/seccask/lib/handler"
	"github.com/seccask/seccask/lib/message"
	"github.com/seccask/seccask/lib/seccaskerr"
	"github.com/seccask/seccask/lib/transport"
)

// senderID identifies the Coordinator in every Message it sends,
// matching the original's literal "Coordinator" sender_id.
const senderID = "Coordinator"

// Coordinator accepts Worker connections, dispatches commands, and
// drives the pipeline lifecycle. Two serialization domains back it,
// per spec §5: each Handler serializes its own connection; lifecycleMu
// serializes the lifecycle domain (pipeline/component bookkeeping),
// and gate signals the in-flight component's completion.
type Coordinator struct {
	logger    *slog.Logger
	scheduler scheduler.Interface
	monitor   *taskmonitor.Monitor

	mu           sync.Mutex
	unidentified map[*handler.Handler]struct{}
	identified   map[string]*handler.Handler

	// lifecycleMu serializes on_new_pipeline/on_new_component/done
	// processing (spec §5's "Lifecycle" domain), and gate is the
	// current component's completion signal — spec §9's oneshot
	// channel, created fresh per in-flight component.
	lifecycleMu sync.Mutex
	gate        chan struct{}
}

// New constructs a Coordinator. Callers must call ListenAndServe to start
// accepting connections.
func New(sched scheduler.Interface, monitor *taskmonitor.Monitor, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		logger:       logger,
		scheduler:    sched,
		monitor:      monitor,
		unidentified: make(map[*handler.Handler]struct{}),
		identified:   make(map[string]*handler.Handler),
	}
}

// ListenAndServe binds address, accepts connections under mode using
// the given attestation provider (nil for Plaintext/TLS), and serves
// until ctx is canceled or a fatal accept error occurs.
func (c *Coordinator) ListenAndServe(ctx context.Context, address string, mode transport.Mode, provider attestation.Provider) error {
	raw, err := net.Listen("tcp", address)
	if err != nil {
		return seccaskerr.New(seccaskerr.KindFatalInit, fmt.Errorf("binding %s: %w", address, err))
	}
	defer raw.Close()

	listener, err := transport.Listen(address, mode, provider, c.logger)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		raw.Close()
	}()

	c.logger.Info("coordinator listening", "address", address, "mode", mode)

	for {
		conn, err := listener.Accept(raw)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			c.logger.Warn("accept failed", "error", err)
			if seccaskerr.Is(err, seccaskerr.KindAttestation) {
				continue
			}
			continue
		}
		c.acceptConnection(conn)
	}
}

func (c *Coordinator) acceptConnection(conn net.Conn) {
	h := handler.New(conn, c.logger)
	h.SetOnReceive(c.dispatch)

	c.mu.Lock()
	c.unidentified[h] = struct{}{}
	c.mu.Unlock()

	h.Start()
	c.logger.Debug("worker connected", "remote", conn.RemoteAddr())
}

// dispatch routes an inbound message by cmd, per spec §4.4's table.
func (c *Coordinator) dispatch(h *handler.Handler, msg message.Message) {
	c.logger.Debug("received", "sender", msg.SenderID(), "cmd", msg.Cmd(), "args", msg.Args())

	switch msg.Cmd() {
	case "ping":
		h.Send(message.WithoutArgs(senderID, "pong"))

	case "ready":
		c.onReady(h, msg)

	case "response_manifest":
		c.onResponseManifest(h, msg)

	case "done":
		c.onDone(h, msg)

	case "bye":
		c.onBye(h)

	default:
		c.logger.Warn("unknown command", "cmd", msg.Cmd(), "sender", msg.SenderID())
	}
}

func (c *Coordinator) onReady(h *handler.Handler, msg message.Message) {
	args := msg.Args()
	if len(args) < 1 || args[0] == "" {
		c.logger.Warn("ready with no worker id, dropping connection")
		h.Close()
		return
	}
	id := args[0]

	c.scheduler.AddNewWorker(id)

	c.mu.Lock()
	delete(c.unidentified, h)
	c.identified[id] = h
	c.mu.Unlock()

	h.SetID(id)
	h.Send(message.WithoutArgs(senderID, "request_manifest"))
}

func (c *Coordinator) onResponseManifest(h *handler.Handler, msg message.Message) {
	id := h.ID()
	worker, ok := c.scheduler.GetWorker(id)
	if !ok {
		c.logger.Error("response_manifest from unregistered worker", "id", id)
		return
	}

	args := msg.Args()
	manifestJSON := ""
	if len(args) > 0 {
		manifestJSON = args[0]
	}

	isNew := worker.Manifest() == nil
	if env, err := manifest.Parse(manifestJSON); err == nil {
		worker.SetManifest(env)
	} else {
		c.logger.Warn("unparsable manifest from worker", "id", id, "error", err)
	}

	if !isNew {
		return
	}

	c.scheduler.OnWorkerReady(worker, func(component scheduler.Component) {
		record, ok := c.monitor.Pending(component.ID)
		if !ok {
			c.logger.Error("scheduler assigned an unknown component", "component_id", component.ID)
			return
		}
		c.logger.Debug("sending execute to new worker", "worker", id, "command", record.Command)
		h.Send(message.New(senderID, "execute", record.Command))
	})
}

func (c *Coordinator) onDone(h *handler.Handler, msg message.Message) {
	args := msg.Args()
	if len(args) < 2 {
		c.logger.Warn("done with insufficient args", "sender", msg.SenderID(), "args", args)
		return
	}
	componentID, ioTimeStr := args[0], args[1]

	ioTime, err := strconv.ParseFloat(ioTimeStr, 64)
	if err != nil {
		c.logger.Warn("unparsable io_time in done", "value", ioTimeStr, "error", err)
	}
	c.logger.Info("component done", "component_id", componentID, "io_time_seconds", ioTime)

	id := h.ID()
	worker, ok := c.scheduler.GetWorker(id)
	if !ok {
		c.logger.Error("done from unregistered worker", "id", id)
	} else {
		c.scheduler.CacheWorker(worker)
	}

	if _, err := c.monitor.RecordDone(componentID); err != nil {
		c.logger.Error("recording component done", "component_id", componentID, "error", err)
	}

	if evicted, ok := c.scheduler.OnCacheFull(); ok {
		c.onCacheFull(evicted)
	}

	c.releaseGate()
}

func (c *Coordinator) onBye(h *handler.Handler) {
	id := h.ID()
	c.mu.Lock()
	delete(c.unidentified, h)
	if id != "" {
		delete(c.identified, id)
	}
	c.mu.Unlock()
	c.logger.Info("worker disconnected", "id", id)
}

// onCacheFull sends exit to a worker the scheduler evicted to make
// room, per spec §4.4's on_cache_full row. The worker's entry is left
// in the identified map until it sends bye, matching spec §9's open
// question about the eviction race.
func (c *Coordinator) onCacheFull(workerID string) {
	c.mu.Lock()
	h, ok := c.identified[workerID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("on_cache_full for unknown worker", "id", workerID)
		return
	}
	h.Send(message.WithoutArgs(senderID, "exit"))
}

// OnNewPipeline registers a pipeline's components as pending, per spec
// §4.4.1. names and ids must be equal length and non-empty.
func (c *Coordinator) OnNewPipeline(name, version string, names, ids []string) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	_, err := c.monitor.NewPipeline(name, version, names, ids)
	return err
}

// OnNewComponent dispatches one pending component and blocks until it
// reports done, per spec §4.4.2 and §5's lifecycle-gate invariant:
// between two successive OnNewComponent calls, the previous component
// must have reached done.
//
// lifecycleMu is held only while setting up the new gate and dispatching
// the component; it is released before the <-gate wait below, since
// releaseGate runs on a different goroutine (the Handler read-loop that
// receives "done") and must itself acquire lifecycleMu to close the
// gate. Holding the lock across that wait would deadlock the pair.
func (c *Coordinator) OnNewComponent(info []string) error {
	if len(info) < 2 {
		return fmt.Errorf("coordinator: on_new_component requires at least [id, working_directory], got %v", info)
	}
	componentID, workingDirectory := info[0], info[1]

	c.lifecycleMu.Lock()

	if err := c.monitor.SetDispatch(componentID, workingDirectory, info); err != nil {
		c.lifecycleMu.Unlock()
		return err
	}

	gate := make(chan struct{})
	c.gate = gate

	component := scheduler.Component{ID: componentID}
	if record, ok := c.monitor.Pending(componentID); ok {
		component.Name = record.Name
	}

	dispatchErr := c.scheduler.GetCompatibleWorkerSync(component, func(workerID string) {
		c.mu.Lock()
		h, ok := c.identified[workerID]
		c.mu.Unlock()
		if !ok {
			c.logger.Error("scheduler returned unknown worker id", "id", workerID)
			return
		}
		h.Send(message.New(senderID, "execute", info))
	})
	if dispatchErr != nil {
		c.gate = nil
		c.lifecycleMu.Unlock()
		return seccaskerr.New(seccaskerr.KindScheduler, dispatchErr)
	}

	c.lifecycleMu.Unlock()

	<-gate
	return nil
}

// releaseGate completes the current in-flight component's oneshot
// gate, unblocking the OnNewComponent call waiting on it. Grounded on
// coordinator.cc's g_lifecycle_mutex.unlock() in the "done" handler,
// replaced with the channel-close gate spec §9 recommends.
func (c *Coordinator) releaseGate() {
	c.lifecycleMu.Lock()
	gate := c.gate
	c.gate = nil
	c.lifecycleMu.Unlock()

	if gate != nil {
		close(gate)
	}
}
