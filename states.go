// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

const contactsPerPort = 6

// portLetters are the port identifiers in enable order; a board with N
// channels exposes the first N.
const portLetters = "ABCD"

// stateTemplateKey holds the all-disconnected template record that seeds
// newly seen boards.
const stateTemplateKey = "SN"

// PortState maps "contact_<N>" keys to the last-known polarity (1 connected,
// 0 disconnected).
type PortState map[string]int

// BoardState maps "port_<LETTER>" keys to per-port contact states.
type BoardState map[string]PortState

func portKey(port string) string { return "port_" + port }
func contactKey(n int) string    { return "contact_" + strconv.Itoa(n) }

func templateBoard(ports int) BoardState {
	b := make(BoardState, ports)
	for i := 0; i < ports; i++ {
		p := make(PortState, contactsPerPort)
		for c := 1; c <= contactsPerPort; c++ {
			p[contactKey(c)] = 0
		}
		b[portKey(string(portLetters[i]))] = p
	}
	return b
}

// StateFile persists the last-known polarity of every contact across
// sessions, keyed by board serial number. Updates are whole-file
// read-modify-write cycles with no locking: concurrent writers can lose
// updates. That is acceptable for single-operator lab use and hardening it
// is out of scope.
type StateFile struct {
	Path string
}

func (s *StateFile) load() (map[string]BoardState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	states := make(map[string]BoardState)
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", s.Path, err)
	}
	return states, nil
}

func (s *StateFile) store(states map[string]BoardState) error {
	data, err := json.MarshalIndent(states, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, append(data, '\n'), 0o644)
}

// EnsureBoard seeds a record for a previously unseen board serial number
// from the template entry, creating the file (with its template) if it does
// not exist yet.
func (s *StateFile) EnsureBoard(sn string, ports int) error {
	states, err := s.load()
	if errors.Is(err, os.ErrNotExist) {
		states = map[string]BoardState{stateTemplateKey: templateBoard(ports)}
		err = nil
	}
	if err != nil {
		return err
	}
	if _, ok := states[stateTemplateKey]; !ok {
		states[stateTemplateKey] = templateBoard(ports)
	}
	if _, ok := states[sn]; ok {
		return nil
	}
	states[sn] = templateBoard(ports)
	return s.store(states)
}

// Record stores the polarity of one contact after a successful pulse.
func (s *StateFile) Record(sn, port string, contact, polarity int) error {
	states, err := s.load()
	if err != nil {
		return err
	}
	board, ok := states[sn]
	if !ok {
		return fmt.Errorf("no state record for board %s", sn)
	}
	p, ok := board[portKey(port)]
	if !ok {
		return fmt.Errorf("no state record for board %s port %s", sn, port)
	}
	p[contactKey(contact)] = polarity
	return s.store(states)
}

// Board returns the recorded state of every port on the given board.
func (s *StateFile) Board(sn string) (BoardState, error) {
	states, err := s.load()
	if err != nil {
		return nil, err
	}
	board, ok := states[sn]
	if !ok {
		return nil, fmt.Errorf("no state record for board %s", sn)
	}
	return board, nil
}

// Port returns the recorded contact states of one port.
func (s *StateFile) Port(sn, port string) (PortState, error) {
	board, err := s.Board(sn)
	if err != nil {
		return nil, err
	}
	p, ok := board[portKey(port)]
	if !ok {
		return nil, fmt.Errorf("no state record for board %s port %s", sn, port)
	}
	return p, nil
}
