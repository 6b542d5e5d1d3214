// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"errors"
	"testing"
)

func TestLabphoxConnect(t *testing.T) {
	st := newBoardTransport("V4")
	l := NewLabphox(st)
	if err := l.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if l.Name != "LABPHOX" {
		t.Errorf("Name = %q, want LABPHOX", l.Name)
	}
	if l.SN != "SN0042" || l.HW != "V4" || l.FW != 3 || l.Channels != 2 {
		t.Errorf("identity = SN %q HW %q FW %d Channels %d", l.SN, l.HW, l.FW, l.Channels)
	}
}

func TestLabphoxConnectRejectsForeignDevice(t *testing.T) {
	st := newBoardTransport("V4")
	st.replies["W:2:A:;"] = []string{"GPIB-USB"}
	l := NewLabphox(st)
	if err := l.Connect(); err == nil {
		t.Error("Connect to a foreign device: expected error")
	}
}

func TestLabphoxConnectMalformedChannelCount(t *testing.T) {
	for _, reply := range []string{"", "   ", "CH two"} {
		st := newBoardTransport("V4")
		st.replies["W:2:F:;"] = []string{reply}
		l := NewLabphox(st)
		if err := l.Connect(); err == nil {
			t.Errorf("Connect with channel-count reply %q: expected error", reply)
		}
	}
}

func TestSetPulseTicksVerifiesEcho(t *testing.T) {
	st := &scriptTransport{}
	l := NewLabphox(st)

	if err := l.SetPulseTicks(1600); err != nil {
		t.Fatalf("SetPulseTicks: %v", err)
	}

	st.script("W:0:A:1600;", "W:0:A:1500")
	err := l.SetPulseTicks(1600)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("SetPulseTicks err = %v, want MismatchError", err)
	}
}

func TestIPCommands(t *testing.T) {
	st := &scriptTransport{}
	st.script("W:Q:G:0;", "W:Q:G:1694607552")
	l := NewLabphox(st)

	if err := l.SetIP("192.168.1.101"); err != nil {
		t.Fatalf("SetIP: %v", err)
	}
	if st.count("W:Q:I:1694607552;") != 1 {
		t.Errorf("SetIP sent %v, want the little-endian packed address", st.sent)
	}

	addr, err := l.IP()
	if err != nil {
		t.Fatalf("IP: %v", err)
	}
	if addr != "192.168.1.101" {
		t.Errorf("IP() = %q, want 192.168.1.101", addr)
	}

	if err := l.SetIP("not-an-address"); err == nil {
		t.Error("SetIP with a malformed address: expected error")
	}
}

func TestUpgradeCommands(t *testing.T) {
	st := &scriptTransport{}
	l := NewLabphox(st)

	if err := l.UpgradeChannels(4); err != nil {
		t.Fatalf("UpgradeChannels: %v", err)
	}
	if st.count("U:A:0:4;") != 1 {
		t.Errorf("UpgradeChannels sent %v", st.sent)
	}

	if err := l.StreamKey([]int{7, 8, 9}); err != nil {
		t.Fatalf("StreamKey: %v", err)
	}
	for _, cmd := range []string{"U:B:A:7;", "U:B:B:8;", "U:B:C:9;"} {
		if st.count(cmd) != 1 {
			t.Errorf("StreamKey never sent %q", cmd)
		}
	}

	st.script("U:A:0:4;", "U:A:0:2")
	err := l.UpgradeChannels(4)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Errorf("UpgradeChannels err = %v, want MismatchError", err)
	}
}
