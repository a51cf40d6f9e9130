// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler implements the per-connection actor spec §4.3 and §9
// describe: one inbox for outgoing messages, one goroutine draining it,
// one goroutine reading frames, with the two loops serialized per their
// own direction — matching the teacher's single-writer-per-socket
// idiom (lib/service/socket.go's one-shot version generalized to a
// persistent, bidirectional connection).
package handler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/seccask/seccask/lib/message"
)

// State tracks which of the Coordinator's two worker collections (spec
// §3 WorkerEntry) a Handler belongs to. The handler package itself only
// exposes the closed/open distinction; Unidentified vs. Identified is
// the Coordinator's bookkeeping, attached via SetID.
type State int

const (
	StateOpen State = iota
	StateClosed
)

// OnReceive is invoked once per successfully parsed inbound message, on
// the handler's receive-serialized goroutine. A non-nil error returned
// from ReadFrame or Decode never reaches this callback — malformed
// frames close the connection directly (spec §7 ProtocolError).
type OnReceive func(h *Handler, msg message.Message)

// OnConnected is the signature of a callback for a connection that has
// completed connect/accept and handshake. Handler neither stores nor
// invokes one: New wraps an already established connection, and Start
// begins reading at once.
type OnConnected func(h *Handler)

// Handler owns one connection: the socket, an outbound send queue, and
// the registered callbacks. Created by Accept or Dial; destroyed on
// socket close or the send/receipt of "bye".
type Handler struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger

	onReceive OnReceive

	sendQueue chan message.Message
	spawnQ    chan func()
	closeOnce sync.Once
	closed    chan struct{}

	mu    sync.Mutex
	id    string
	state State
}

// New wraps an established connection. Callers must call Start after
// registering callbacks with OnReceive.
func New(conn net.Conn, logger *slog.Logger) *Handler {
	return &Handler{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		logger:    logger,
		sendQueue: make(chan message.Message, 64),
		spawnQ:    make(chan func(), 16),
		closed:    make(chan struct{}),
	}
}

// SetOnReceive registers the receive callback. Must be called before
// Start.
func (h *Handler) SetOnReceive(cb OnReceive) { h.onReceive = cb }

// ID returns the worker id assigned via SetID, or "" before identification.
func (h *Handler) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// SetID records the worker id once a "ready" message identifies this
// connection. Idempotent; intended to be called exactly once by the
// Coordinator's dispatch logic.
func (h *Handler) SetID(id string) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

// State returns whether the handler's socket is still open.
func (h *Handler) State() State {
	select {
	case <-h.closed:
		return StateClosed
	default:
		return StateOpen
	}
}

// Start launches the send-queue writer and the receive loop. It does
// not block; callers observe completion via Done.
func (h *Handler) Start() {
	go h.writeLoop()
	go h.readLoop()
}

// Done returns a channel closed once the handler's connection has been
// torn down, from either direction.
func (h *Handler) Done() <-chan struct{} { return h.closed }

// Send enqueues msg for delivery on the writer goroutine; queued
// messages are written in the order they were enqueued. Non-blocking
// up to the queue's capacity; callers on the receive path must never
// call Send synchronously from within their own OnReceive if the queue
// could be full and the peer is not draining.
func (h *Handler) Send(msg message.Message) {
	select {
	case h.sendQueue <- msg:
	case <-h.closed:
	}
}

// Spawn runs fn on the handler's writer goroutine. No queued message is
// written while fn runs, so frames fn writes with writeOne go out back
// to back. The writer takes from the Send queue and the Spawn queue in
// no fixed order, so fn is not ordered against messages already waiting
// in the Send queue, and a Send made inside fn only enqueues its message
// like any other Send. The Worker uses it to send response_manifest
// then done.
func (h *Handler) Spawn(fn func()) {
	select {
	case h.spawnQ <- fn:
	case <-h.closed:
	}
}

// Close tears down the connection. Idempotent. Safe to call from any
// goroutine.
func (h *Handler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.conn.Close()
		close(h.closed)
	})
	return err
}

func (h *Handler) writeLoop() {
	for {
		select {
		case msg := <-h.sendQueue:
			if err := h.writeOne(msg); err != nil {
				return
			}
		case fn := <-h.spawnQ:
			fn()
		case <-h.closed:
			return
		}
	}
}

func (h *Handler) writeOne(msg message.Message) error {
	if err := message.WriteFrame(h.conn, msg); err != nil {
		if h.logger != nil {
			h.logger.Debug("write failed, closing handler", "error", err)
		}
		h.Close()
		return err
	}
	if msg.Cmd() == "bye" {
		h.Close()
		return errHandlerClosing
	}
	return nil
}

var errHandlerClosing = errors.New("handler: closing after bye")

func (h *Handler) readLoop() {
	defer h.Close()

	for {
		payload, err := message.ReadFrame(h.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && h.logger != nil {
				h.logger.Debug("read failed, closing handler", "error", err)
			}
			return
		}

		msg, err := message.Decode(payload)
		if err != nil {
			if h.logger != nil {
				h.logger.Warn("malformed message, closing handler", "error", err)
			}
			return
		}

		if h.onReceive != nil {
			h.onReceive(h, msg)
		}

		if msg.Cmd() == "bye" {
			return
		}
	}
}

// String renders the handler's identity for logging.
func (h *Handler) String() string {
	id := h.ID()
	if id == "" {
		id = "<unidentified>"
	}
	return fmt.Sprintf("handler(%s, %s)", id, h.conn.RemoteAddr())
}
