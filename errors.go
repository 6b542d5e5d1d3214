// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"fmt"
	"time"
)

// TimeoutError reports that no reply terminator was observed within the
// transport deadline. Timeouts are never retried by this package.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("labphox reply timed out after %s", e.Timeout)
}

// MismatchError reports a reply whose echoed command prefix, or echoed value,
// does not match what was sent.
type MismatchError struct {
	Sent     string
	Received string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: sent %q, received %q", e.Sent, e.Received)
}

// AddressError reports a port or contact outside the board's addressable
// range. It is returned before any hardware I/O takes place.
type AddressError struct {
	Port    string
	Contact int
	Ports   int // ports enabled on the connected board
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("port %s contact %d out of range (board has %d ports, contacts 1-%d)",
		e.Port, e.Contact, e.Ports, contactsPerPort)
}

// RangeError reports a physical quantity outside its hardware-supported
// range. It is returned before any value is written to the board.
type RangeError struct {
	Quantity string
	Value    float64
	Min      float64
	Max      float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %g outside of range %g-%g", e.Quantity, e.Value, e.Min, e.Max)
}

// SelectionError reports a relay validation identifier echoed by the firmware
// that does not match the requested bit pattern. The pulse is not fired.
type SelectionError struct {
	Port     string
	Contact  int
	Expected int
	Received int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("switch selection failed on port %s contact %d: validation id %d, expected %d",
		e.Port, e.Contact, e.Received, e.Expected)
}
