// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package message implements the coordinator/worker wire protocol: a
// 4-byte big-endian length prefix followed by a UTF-8 payload of the
// form "sender_id\r\ncmd\r\nargs_joined", where args_joined is the
// argument list separated by "%" with no escaping.
package message

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// MaxFrameSize bounds the length prefix to guard against a malformed or
// hostile peer claiming an unreasonable payload size. The protocol
// itself imposes no limit; this is a defensive ceiling chosen well
// above any pipeline manifest or command line seen in practice.
const MaxFrameSize = 64 << 20 // 64 MiB

// payloadPattern implements the parse rule from the wire format: three
// fields separated by CRLF, the third possibly empty. (.+) requires at
// least one byte for sender_id and cmd; (.*) permits an empty args
// field (zero arguments).
var payloadPattern = regexp.MustCompile(`^(.+)\r\n(.+)\r\n(.*)$`)

// Message is the core unit of the wire protocol: a sender identity, a
// command verb, and an ordered list of string arguments. Immutable once
// constructed.
type Message struct {
	senderID string
	cmd      string
	args     []string
}

// New constructs a Message. senderID and cmd must be non-empty; args
// may be nil or empty. New does not validate that args are free of "%"
// or CRLF — per spec, that is the caller's responsibility, since the
// wire format has no escape mechanism.
func New(senderID, cmd string, args []string) Message {
	return Message{senderID: senderID, cmd: cmd, args: args}
}

// WithoutArgs constructs a Message carrying no arguments.
func WithoutArgs(senderID, cmd string) Message {
	return Message{senderID: senderID, cmd: cmd}
}

// SenderID returns the sender's identity string.
func (m Message) SenderID() string { return m.senderID }

// Cmd returns the command verb.
func (m Message) Cmd() string { return m.cmd }

// Args returns the argument list. Callers must not mutate the returned
// slice.
func (m Message) Args() []string { return m.args }

// String returns a human-readable representation for logging.
func (m Message) String() string {
	return fmt.Sprintf("%s %s %v", m.senderID, m.cmd, m.args)
}

// Encode serializes the message to its wire form: a 4-byte big-endian
// length prefix followed by the UTF-8 payload.
func (m Message) Encode() []byte {
	payload := m.senderID + "\r\n" + m.cmd + "\r\n" + strings.Join(m.args, "%")
	buf := make([]byte, 4+len(payload))
	putUint32BE(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// Decode parses a payload (without the length prefix) into a Message.
// Returns a ProtocolError-wrapped error if the payload does not match
// "sender_id\r\ncmd\r\nargs_joined".
func Decode(payload []byte) (Message, error) {
	matches := payloadPattern.FindSubmatch(payload)
	if matches == nil {
		return Message{}, fmt.Errorf("message: malformed payload %q: %w", truncate(payload), ErrProtocol)
	}

	senderID := string(matches[1])
	cmd := string(matches[2])
	argsField := string(matches[3])

	var args []string
	if argsField != "" {
		args = strings.Split(argsField, "%")
	}

	return Message{senderID: senderID, cmd: cmd, args: args}, nil
}

// ErrProtocol marks errors produced by malformed frames or unparsable
// payloads. Per spec §7, a ProtocolError closes the offending
// connection but does not affect others.
var ErrProtocol = fmt.Errorf("protocol error")

// ReadFrame reads one length-prefixed frame from r: a 4-byte big-endian
// length followed by exactly that many bytes. Returns io.EOF if the
// peer closed the connection cleanly before any bytes of a new frame
// arrived; any other read failure (including a partial frame) is
// wrapped as a transport-level error.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := getUint32BE(lengthBuf[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("message: frame length %d exceeds maximum %d: %w", length, MaxFrameSize, ErrProtocol)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("message: reading %d-byte frame: %w", length, err)
	}

	return payload, nil
}

// WriteFrame writes msg's encoded form to w in a single Write call, so
// that concurrent writers on a buffered stream cannot interleave a
// length prefix from one frame with the payload of another. Callers
// must still serialize calls to WriteFrame per connection (see
// lib/handler), since Write itself is not guaranteed atomic across
// separate calls.
func WriteFrame(w io.Writer, msg Message) error {
	_, err := w.Write(msg.Encode())
	return err
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func truncate(b []byte) string {
	const max = 80
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
