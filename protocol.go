// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"fmt"
	"strconv"
	"strings"
)

// Module identifiers of the Labphox command grammar. Commands take the wire
// form `W:<module>:<op>:<value>;` and standard replies echo the same
// module/op prefix followed by the returned value. Relay selection addresses
// the IO expander by the port letter itself rather than a numeric module.
const (
	modTimer    = "0"
	modGPIO     = "1"
	modUtility  = "2"
	modApp      = "3"
	modADC      = "4"
	modDAC1     = "5"
	modDrivers  = "6"
	modReset    = "7"
	modDAC2     = "8"
	modADC3     = "W"
	modEthernet = "Q"
)

// buildCmd composes the wire form of a write/query command. An empty value is
// legal and produces `W:<module>:<op>:;`.
func buildCmd(module, op string, value any) string {
	return fmt.Sprintf("W:%s:%s:%v;", module, op, value)
}

// Response is a parsed standard reply.
type Response struct {
	Raw   string // the full reply, terminator stripped
	Value string // the final field
}

// Int parses the reply value as a decimal integer.
func (r Response) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(r.Value))
	if err != nil {
		return 0, fmt.Errorf("non-numeric reply value %q: %w", r.Value, err)
	}
	return n, nil
}

// parseReply validates that the echoed module/op prefix matches the issued
// command and extracts the returned value. A prefix mismatch yields a
// MismatchError; the caller decides whether that is fatal.
func parseReply(cmd, reply string) (Response, error) {
	resp := Response{Raw: reply}

	sent := strings.Split(strings.TrimSuffix(cmd, ";"), ":")
	got := strings.Split(reply, ":")
	if len(got) > 0 {
		resp.Value = got[len(got)-1]
	}

	if len(got) != len(sent) {
		return resp, &MismatchError{Sent: cmd, Received: reply}
	}
	for i := 0; i < len(sent)-1; i++ {
		if got[i] != sent[i] {
			return resp, &MismatchError{Sent: cmd, Received: reply}
		}
	}
	return resp, nil
}
