// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/seccask/seccask/internal/manifest"
	"github.com/seccask/seccask/internal/scheduler"
	"github.com/seccask/seccask/internal/taskmonitor"
	"github.com/seccask/seccask/lib/clock"
	"github.com/seccask/seccask/lib/handler"
	"github.com/seccask/seccask/lib/message"
)

// fakeWorker drives one end of a net.Pipe as if it were a Worker,
// recording every message it receives for assertions.
type fakeWorker struct {
	h        *handler.Handler
	received chan message.Message
}

func newFakeWorker(t *testing.T, c *Coordinator) *fakeWorker {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	fw := &fakeWorker{received: make(chan message.Message, 16)}
	fw.h = handler.New(clientConn, nil)
	fw.h.SetOnReceive(func(_ *handler.Handler, msg message.Message) {
		fw.received <- msg
	})
	fw.h.Start()

	c.acceptConnection(serverConn)
	return fw
}

func (fw *fakeWorker) expect(t *testing.T, cmd string) message.Message {
	t.Helper()
	select {
	case msg := <-fw.received:
		if msg.Cmd() != cmd {
			t.Fatalf("received %q, want %q", msg.Cmd(), cmd)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", cmd)
	}
	panic("unreachable")
}

func newTestCoordinator() (*Coordinator, *scheduler.Default, *taskmonitor.Monitor) {
	sched := scheduler.NewDefault(4)
	monitor := taskmonitor.New(clock.Fake(time.Now()))
	return New(sched, monitor, nil), sched, monitor
}

func TestWorkerJoinSequence(t *testing.T) {
	c, _, _ := newTestCoordinator()
	if err := c.OnNewPipeline("demo", "1.0", []string{"fetch"}, []string{"c1"}); err != nil {
		t.Fatalf("OnNewPipeline: %v", err)
	}
	go func() {
		if err := c.OnNewComponent([]string{"c1", "/tmp/c1", "NULL", "python", "fetch.py"}); err != nil {
			t.Errorf("OnNewComponent: %v", err)
		}
	}()

	w := newFakeWorker(t, c)
	w.h.Send(message.New("W1", "ready", []string{"W1"}))
	w.expect(t, "request_manifest")

	env, err := manifest.Capture("W1", manifest.CaptureOptions{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	w.h.Send(message.New("W1", "response_manifest", []string{env}))

	execMsg := w.expect(t, "execute")
	if got := execMsg.Args(); len(got) == 0 || got[0] != "c1" {
		t.Fatalf("execute args = %v, want to start with c1", got)
	}
}

func TestOnNewComponentBlocksUntilDone(t *testing.T) {
	c, _, _ := newTestCoordinator()
	if err := c.OnNewPipeline("demo", "1.0", []string{"fetch", "train"}, []string{"a1", "b1"}); err != nil {
		t.Fatalf("OnNewPipeline: %v", err)
	}

	w := newFakeWorker(t, c)
	w.h.Send(message.New("W1", "ready", []string{"W1"}))
	w.expect(t, "request_manifest")

	env, err := manifest.Capture("W1", manifest.CaptureOptions{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	w.h.Send(message.New("W1", "response_manifest", []string{env}))

	firstDone := make(chan struct{})
	go func() {
		if err := c.OnNewComponent([]string{"a1", "/tmp/a1", "NULL", "python", "a.py"}); err != nil {
			t.Errorf("OnNewComponent(a1): %v", err)
		}
		close(firstDone)
	}()

	w.expect(t, "execute")

	select {
	case <-firstDone:
		t.Fatal("OnNewComponent(a1) returned before done was sent")
	case <-time.After(50 * time.Millisecond):
	}

	w.h.Send(message.New("W1", "response_manifest", []string{env}))
	w.h.Send(message.New("W1", "done", []string{"a1", "0.5"}))

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("OnNewComponent(a1) never returned after done")
	}

	secondDone := make(chan struct{})
	go func() {
		if err := c.OnNewComponent([]string{"b1", "/tmp/b1", "NULL", "python", "b.py"}); err != nil {
			t.Errorf("OnNewComponent(b1): %v", err)
		}
		close(secondDone)
	}()

	w.expect(t, "execute")
	w.h.Send(message.New("W1", "response_manifest", []string{env}))
	w.h.Send(message.New("W1", "done", []string{"b1", "0.2"}))

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("OnNewComponent(b1) never returned after done")
	}
}

func TestPingReceivesPong(t *testing.T) {
	c, _, _ := newTestCoordinator()
	w := newFakeWorker(t, c)

	w.h.Send(message.New("W1", "ping", nil))
	w.expect(t, "pong")
}

func TestOnCacheFullSendsExit(t *testing.T) {
	c, _, _ := newTestCoordinator()

	w1 := newFakeWorker(t, c)
	w1.h.Send(message.New("W1", "ready", []string{"W1"}))
	w1.expect(t, "request_manifest")
	env1, _ := manifest.Capture("W1", manifest.CaptureOptions{})
	w1.h.Send(message.New("W1", "response_manifest", []string{env1}))

	// onCacheFull is exercised directly here; internal/scheduler's own
	// tests cover the eviction policy that produces this worker id.
	c.onCacheFull("W1")
	w1.expect(t, "exit")
}
