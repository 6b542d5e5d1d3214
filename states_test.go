// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureBoardSeedsTemplate(t *testing.T) {
	sf := &StateFile{Path: filepath.Join(t.TempDir(), "states.json")}

	if err := sf.EnsureBoard("SN0042", 2); err != nil {
		t.Fatalf("EnsureBoard: %v", err)
	}

	data, err := os.ReadFile(sf.Path)
	if err != nil {
		t.Fatalf("reading state file: %v", err)
	}
	for _, key := range []string{`"SN"`, `"SN0042"`, `"port_A"`, `"port_B"`, `"contact_1"`, `"contact_6"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("state file missing %s", key)
		}
	}
	if strings.Contains(string(data), `"port_C"`) {
		t.Error("2-port board should not have a port_C record")
	}

	board, err := sf.Board("SN0042")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	for _, p := range board {
		for k, v := range p {
			if v != 0 {
				t.Errorf("fresh board: %s = %d, want 0", k, v)
			}
		}
	}
}

func TestEnsureBoardKeepsExistingRecord(t *testing.T) {
	sf := &StateFile{Path: filepath.Join(t.TempDir(), "states.json")}
	if err := sf.EnsureBoard("SN0042", 2); err != nil {
		t.Fatalf("EnsureBoard: %v", err)
	}
	if err := sf.Record("SN0042", "A", 3, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Reconnecting must not reset recorded states.
	if err := sf.EnsureBoard("SN0042", 2); err != nil {
		t.Fatalf("EnsureBoard again: %v", err)
	}
	port, err := sf.Port("SN0042", "A")
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	if port["contact_3"] != 1 {
		t.Errorf("contact_3 = %d, want 1 after reconnect", port["contact_3"])
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	sf := &StateFile{Path: filepath.Join(t.TempDir(), "states.json")}
	if err := sf.EnsureBoard("SN0042", 1); err != nil {
		t.Fatalf("EnsureBoard: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := sf.Record("SN0042", "A", 3, 1); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	port, err := sf.Port("SN0042", "A")
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	if port["contact_3"] != 1 {
		t.Errorf("contact_3 = %d, want 1", port["contact_3"])
	}
	for c := 1; c <= contactsPerPort; c++ {
		if c != 3 && port[contactKey(c)] != 0 {
			t.Errorf("%s = %d, want 0", contactKey(c), port[contactKey(c)])
		}
	}

	if err := sf.Record("SN0042", "A", 3, 0); err != nil {
		t.Fatalf("Record disconnect: %v", err)
	}
	port, _ = sf.Port("SN0042", "A")
	if port["contact_3"] != 0 {
		t.Errorf("contact_3 = %d after disconnect, want 0", port["contact_3"])
	}
}

func TestRecordUnknownBoard(t *testing.T) {
	sf := &StateFile{Path: filepath.Join(t.TempDir(), "states.json")}
	if err := sf.EnsureBoard("SN0042", 1); err != nil {
		t.Fatalf("EnsureBoard: %v", err)
	}
	if err := sf.Record("SN9999", "A", 1, 1); err == nil {
		t.Error("Record for unseen board: expected error")
	}
	if err := sf.Record("SN0042", "B", 1, 1); err == nil {
		t.Error("Record for port outside board range: expected error")
	}
}
