// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/seccask/seccask/lib/message"
	"github.com/seccask/seccask/lib/testutil"
)

func pipeHandlers() (*Handler, net.Conn) {
	clientConn, serverConn := net.Pipe()
	h := New(clientConn, nil)
	return h, serverConn
}

func TestSendDeliversFrame(t *testing.T) {
	h, peer := pipeHandlers()
	defer peer.Close()
	h.Start()
	defer h.Close()

	h.Send(message.New("Coordinator", "ping", nil))

	reader := bufio.NewReader(peer)
	payload, err := message.ReadFrame(reader)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := message.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Cmd() != "ping" {
		t.Fatalf("Cmd = %q, want ping", msg.Cmd())
	}
}

func TestSpawnOrdersSends(t *testing.T) {
	// Mirrors spec §4.5: a Worker must send response_manifest then
	// done as one atomic, unsplit unit.
	h, peer := pipeHandlers()
	defer peer.Close()
	h.Start()
	defer h.Close()

	done := make(chan struct{})
	h.Spawn(func() {
		h.writeOne(message.New("W1", "response_manifest", []string{"{}"}))
		h.writeOne(message.New("W1", "done", []string{"c1", "0.5"}))
		close(done)
	})

	reader := bufio.NewReader(peer)

	first, err := message.ReadFrame(reader)
	if err != nil {
		t.Fatalf("ReadFrame (1st): %v", err)
	}
	firstMsg, _ := message.Decode(first)
	if firstMsg.Cmd() != "response_manifest" {
		t.Fatalf("first message = %q, want response_manifest", firstMsg.Cmd())
	}

	second, err := message.ReadFrame(reader)
	if err != nil {
		t.Fatalf("ReadFrame (2nd): %v", err)
	}
	secondMsg, _ := message.Decode(second)
	if secondMsg.Cmd() != "done" {
		t.Fatalf("second message = %q, want done", secondMsg.Cmd())
	}
	testutil.RequireClosed(t, done, time.Second, "spawn callback")
}

func TestOnReceiveInvokedPerMessage(t *testing.T) {
	h, peer := pipeHandlers()
	defer peer.Close()

	received := make(chan message.Message, 4)
	h.SetOnReceive(func(_ *Handler, msg message.Message) {
		received <- msg
	})
	h.Start()
	defer h.Close()

	go func() {
		message.WriteFrame(peer, message.New("Coordinator", "request_manifest", nil))
	}()

	msg := testutil.RequireReceive(t, received, time.Second, "on_receive callback")
	if msg.Cmd() != "request_manifest" {
		t.Fatalf("Cmd = %q, want request_manifest", msg.Cmd())
	}
}

func TestByeClosesHandler(t *testing.T) {
	h, peer := pipeHandlers()
	defer peer.Close()
	h.Start()

	h.Send(message.New("Coordinator", "exit", nil))
	go func() {
		message.WriteFrame(peer, message.New("W1", "bye", nil))
	}()

	testutil.RequireClosed(t, h.Done(), time.Second, "handler closed after bye")
	if h.State() != StateClosed {
		t.Fatalf("State = %v, want StateClosed", h.State())
	}
}

func TestSendAfterCloseDoesNotBlock(t *testing.T) {
	h, peer := pipeHandlers()
	peer.Close()
	h.Start()
	h.Close()

	done := make(chan struct{})
	go func() {
		h.Send(message.New("Coordinator", "ping", nil))
		close(done)
	}()
	testutil.RequireClosed(t, done, time.Second, "Send after Close")
}
