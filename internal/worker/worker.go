// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the Worker core: connect, identify,
// respond to the Coordinator's command table, and execute components
// via the component runtime (spec §4.5).
//
// Grounded on original_source/csrc/worker.cc's DoActionFromMsg and its
// "execute" branch, which posts to a single-strand executor, calls
// into daemon/worker.py's execute_component, then sends
// response_manifest followed by done on the same connection.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/seccask/seccask/internal/contentseal"
	"github.com/seccask/seccask/internal/manifest"
	"github.com/seccask/seccask/internal/runtime"
	"github.com/seccask/seccask/lib/attestation"
	"github.com/seccask/seccask/lib/handler"
	"github.com/seccask/seccask/lib/message"
	"github.com/seccask/seccask/lib/transport"
)

// Worker owns one connection to the Coordinator. Its id is assigned
// by the operator at startup (spec §6's -i/--id flag) and announced
// once via "ready"; every message it sends after that uses the same
// id as sender_id, unlike the Coordinator's fixed "Coordinator"
// sender_id.
type Worker struct {
	id      string
	logger  *slog.Logger
	runtime *runtime.Runtime
	keys    contentseal.Store

	manifestOptions manifest.CaptureOptions

	h *handler.Handler
}

// New constructs a Worker identified by id. rt must not be nil.
func New(id string, rt *runtime.Runtime, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{id: id, logger: logger, runtime: rt}
}

// Connect dials address under the given transport mode, announces
// this Worker's id with "ready", and serves the connection until it
// closes. Connect blocks until the connection ends; callers run it in
// its own goroutine or as the top-level loop of a worker process.
func (w *Worker) Connect(ctx context.Context, address string, mode transport.Mode, provider attestation.Provider) error {
	dialer := transport.Dialer{Mode: mode, Provider: provider, Logger: w.logger}
	conn, err := dialer.Dial(address)
	if err != nil {
		return err
	}

	w.h = handler.New(conn, w.logger)
	w.h.SetOnReceive(w.dispatch)
	w.h.Start()

	w.h.Send(message.New(w.id, "ready", []string{w.id}))

	select {
	case <-w.h.Done():
	case <-ctx.Done():
		w.h.Close()
	}
	return nil
}

// dispatch routes an inbound message by cmd, per spec §4.5's table.
func (w *Worker) dispatch(h *handler.Handler, msg message.Message) {
	w.logger.Debug("received", "sender", msg.SenderID(), "cmd", msg.Cmd(), "args", msg.Args())

	switch msg.Cmd() {
	case "ping":
		h.Send(message.WithoutArgs(w.id, "pong"))

	case "request_manifest":
		w.onRequestManifest(h)

	case "execute":
		w.onExecute(h, msg.Args())

	case "exit":
		h.Send(message.WithoutArgs(w.id, "bye"))

	default:
		w.logger.Warn("unknown command", "cmd", msg.Cmd(), "sender", msg.SenderID())
	}
}

func (w *Worker) onRequestManifest(h *handler.Handler) {
	env, err := w.captureManifest()
	if err != nil {
		w.logger.Error("capturing manifest", "error", err)
		return
	}
	h.Send(message.New(w.id, "response_manifest", []string{env}))
}

// onExecute parses a ComponentDispatch payload (spec §4.1:
// [component_id, working_directory, component_key_or_"NULL",
// cmd_argv...]), dispatches it on the runtime's serialized executor,
// then sends response_manifest followed by done from a Handler.Spawn
// callback. Both go through the connection's single FIFO send queue, so
// done always arrives after response_manifest; a Send from another
// goroutine (such as a pong) can still be queued between the two.
//
// When a non-"NULL" component key is present, the working directory is
// encrypted at rest around the actual execution: any blob a previous
// execute of the same component id under the same key sealed there is
// restored first, and the directory is resealed once the component
// finishes (spec §4.7's stated consumer of the content key).
func (w *Worker) onExecute(h *handler.Handler, args []string) {
	if len(args) < 3 {
		w.logger.Error("malformed execute payload", "args", args)
		return
	}
	componentID, workingDirectory, componentKey := args[0], args[1], args[2]
	argv := args[3:]

	if componentKey != "NULL" {
		if err := w.keys.InitWithKey(componentKey); err != nil {
			w.logger.Error("initializing content key", "error", err)
			return
		}
		if err := w.restoreWorkingDirectory(componentID, workingDirectory); err != nil {
			w.logger.Error("restoring sealed working directory", "component_id", componentID, "error", err)
			return
		}
	}

	finishedID, ioTime, err := w.runtime.Execute(context.Background(), componentID, workingDirectory, argv)
	if err != nil {
		w.logger.Error("executing component", "component_id", componentID, "error", err)
		return
	}

	if componentKey != "NULL" {
		if err := w.sealWorkingDirectory(componentID, workingDirectory); err != nil {
			w.logger.Error("sealing working directory", "component_id", componentID, "error", err)
		}
	}

	env, err := w.captureManifest()
	if err != nil {
		w.logger.Error("capturing manifest after execute", "error", err)
		env = "{}"
	}

	ioSeconds := ioTime.Seconds()
	h.Spawn(func() {
		h.Send(message.New(w.id, "response_manifest", []string{env}))
		h.Send(message.New(w.id, "done", []string{finishedID, fmt.Sprintf("%g", ioSeconds)}))
	})
}

func (w *Worker) captureManifest() (string, error) {
	opts := w.manifestOptions
	if key := w.keys.Key(); key != nil {
		opts.EncryptionKey = key
	}
	return manifest.Capture(w.id, opts)
}

// SetManifestOptions updates the name/version/packages reported in
// future manifest captures, intended to be called by the runtime's
// caller once it knows what a just-loaded component's environment
// looks like. The zero value is safe before any component has run.
func (w *Worker) SetManifestOptions(opts manifest.CaptureOptions) {
	w.manifestOptions = opts
}
