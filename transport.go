// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// DefaultTimeout bounds every blocking reply read.
	DefaultTimeout = 5 * time.Second

	// EthernetPort is the fixed UDP/TCP port of the board's network stack.
	EthernetPort = "7"

	terminator   = ';'
	replyBufSize = 1024

	// The firmware prepends a short header to packet-mode UDP datagrams.
	udpPacketHeaderLen = 7
)

// packetSentinel marks end-of-payload in packet mode, replacing the usual
// semicolon terminator.
var packetSentinel = []byte{0x00, 0xff, 0x00, 0xff}

// Transport is a synchronous request/reply channel to the pulse generator.
// Every round trip blocks until the reply terminator is observed or the
// deadline expires. At most one request may be in flight per Transport; none
// of the implementations are safe for concurrent use.
type Transport interface {
	// RoundTrip transmits a command and returns the reply up to, but not
	// including, the semicolon terminator.
	RoundTrip(cmd string) (string, error)

	// RoundTripPacket transmits a command and returns the raw payload
	// delimited by the 4-byte sentinel, with the echoed command stripped.
	RoundTripPacket(cmd string) ([]byte, error)

	Close() error
}

// SerialTransport talks to a board over a USB virtual COM port. The port is
// injected as an io.ReadWriteCloser so callers choose the serial backend.
type SerialTransport struct {
	rw      io.ReadWriteCloser
	Timeout time.Duration
	Poll    time.Duration // optional sleep between read attempts
}

// NewSerialTransport wraps an open serial port.
func NewSerialTransport(rw io.ReadWriteCloser) *SerialTransport {
	return &SerialTransport{rw: rw, Timeout: DefaultTimeout}
}

func (t *SerialTransport) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// flushInput discards stale bytes if the underlying port supports it.
func (t *SerialTransport) flushInput() {
	if fl, ok := t.rw.(interface{ Flush() error }); ok {
		fl.Flush() //nolint:errcheck // stale input is best-effort cleanup
	}
}

// accumulate reads until done reports the index at which the reply is
// complete, returning the accumulated bytes and that index.
func (t *SerialTransport) accumulate(done func([]byte) int) ([]byte, int, error) {
	deadline := time.Now().Add(t.timeout())
	var acc []byte
	buf := make([]byte, replyBufSize)
	for {
		n, err := t.rw.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			if i := done(acc); i >= 0 {
				return acc, i, nil
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("serial read: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, 0, &TimeoutError{Timeout: t.timeout()}
		}
		if t.Poll > 0 {
			time.Sleep(t.Poll)
		}
	}
}

func (t *SerialTransport) RoundTrip(cmd string) (string, error) {
	t.flushInput()
	if _, err := t.rw.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("serial write: %w", err)
	}
	acc, i, err := t.accumulate(func(b []byte) int {
		return bytes.IndexByte(b, terminator)
	})
	if err != nil {
		return "", err
	}
	return string(acc[:i]), nil
}

func (t *SerialTransport) RoundTripPacket(cmd string) ([]byte, error) {
	t.flushInput()
	if _, err := t.rw.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("serial write: %w", err)
	}
	acc, i, err := t.accumulate(sentinelIndex)
	if err != nil {
		return nil, err
	}
	return stripPacket(acc[:i], cmd), nil
}

func (t *SerialTransport) Close() error { return t.rw.Close() }

// sentinelIndex reports the start of the packet sentinel within the
// accumulated buffer, or -1 while the payload is still incomplete. Bytes
// following the sentinel, if any arrived in the same read, are discarded by
// the caller.
func sentinelIndex(b []byte) int {
	return bytes.Index(b, packetSentinel)
}

// stripPacket removes the echoed command from a sentinel-delimited payload.
func stripPacket(payload []byte, cmd string) []byte {
	return bytes.ReplaceAll(payload, []byte(cmd), nil)
}

// UDPTransport talks to a board over its Ethernet interface using one
// datagram exchange per command. Lost datagrams are not retried; if the
// terminator never arrives the round trip fails with a TimeoutError.
type UDPTransport struct {
	Addr    string
	Timeout time.Duration
	BufSize int
}

// NewUDPTransport addresses a board by IP. The firmware always listens on
// port 7.
func NewUDPTransport(host string) *UDPTransport {
	return &UDPTransport{
		Addr:    net.JoinHostPort(host, EthernetPort),
		Timeout: DefaultTimeout,
		BufSize: replyBufSize,
	}
}

func (t *UDPTransport) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

func (t *UDPTransport) exchange(cmd string, done func([]byte) int) ([]byte, int, error) {
	conn, err := net.Dial("udp", t.Addr)
	if err != nil {
		return nil, 0, fmt.Errorf("udp dial %s: %w", t.Addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.timeout())); err != nil {
		return nil, 0, err
	}
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, 0, fmt.Errorf("udp write: %w", err)
	}

	size := t.BufSize
	if size <= 0 {
		size = replyBufSize
	}
	buf := make([]byte, size)
	var acc []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			if i := done(acc); i >= 0 {
				return acc, i, nil
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, 0, &TimeoutError{Timeout: t.timeout()}
			}
			return nil, 0, fmt.Errorf("udp read: %w", err)
		}
	}
}

func (t *UDPTransport) RoundTrip(cmd string) (string, error) {
	acc, i, err := t.exchange(cmd, func(b []byte) int {
		return bytes.IndexByte(b, terminator)
	})
	if err != nil {
		return "", err
	}
	return string(acc[:i]), nil
}

func (t *UDPTransport) RoundTripPacket(cmd string) ([]byte, error) {
	acc, i, err := t.exchange(cmd, sentinelIndex)
	if err != nil {
		return nil, err
	}
	payload := stripPacket(acc[:i], cmd)
	if len(payload) < udpPacketHeaderLen {
		return nil, nil
	}
	return payload[udpPacketHeaderLen:], nil
}

func (t *UDPTransport) Close() error { return nil }

// TCPTransport talks to a board over a short-lived TCP connection per
// command: one send, a single read, done. Replies longer than the read
// buffer truncate; the firmware keeps standard replies well under it.
type TCPTransport struct {
	Addr    string
	Timeout time.Duration
	BufSize int
}

// NewTCPTransport addresses a board by IP using the alternate TCP socket.
func NewTCPTransport(host string) *TCPTransport {
	return &TCPTransport{
		Addr:    net.JoinHostPort(host, EthernetPort),
		Timeout: DefaultTimeout,
		BufSize: replyBufSize,
	}
}

func (t *TCPTransport) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

func (t *TCPTransport) RoundTrip(cmd string) (string, error) {
	conn, err := net.DialTimeout("tcp", t.Addr, t.timeout())
	if err != nil {
		return "", fmt.Errorf("tcp dial %s: %w", t.Addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.timeout())); err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("tcp write: %w", err)
	}

	size := t.BufSize
	if size <= 0 {
		size = replyBufSize
	}
	buf := make([]byte, size)
	n, err := conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", &TimeoutError{Timeout: t.timeout()}
		}
		if !errors.Is(err, io.EOF) || n == 0 {
			return "", fmt.Errorf("tcp read: %w", err)
		}
	}
	reply := buf[:n]
	if i := bytes.IndexByte(reply, terminator); i >= 0 {
		reply = reply[:i]
	}
	return string(reply), nil
}

// RoundTripPacket is not available over TCP; the firmware only streams
// waveforms on the USB and UDP paths.
func (t *TCPTransport) RoundTripPacket(cmd string) ([]byte, error) {
	return nil, errors.New("packet mode is not supported over tcp")
}

func (t *TCPTransport) Close() error { return nil }
