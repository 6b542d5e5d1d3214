// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"errors"
	"testing"
)

func TestBuildCmd(t *testing.T) {
	tests := []struct {
		module, op string
		value      any
		want       string
	}{
		{modGPIO, "A", 1, "W:1:A:1;"},
		{modUtility, "E", "", "W:2:E:;"},
		{modDAC1, "S", 3452, "W:5:S:3452;"},
		{"A", "C", 2, "W:A:C:2;"},
		{modEthernet, "I", uint32(0x0101a8c0), "W:Q:I:16885952;"},
	}
	for _, tt := range tests {
		if got := buildCmd(tt.module, tt.op, tt.value); got != tt.want {
			t.Errorf("buildCmd(%q, %q, %v) = %q, want %q", tt.module, tt.op, tt.value, got, tt.want)
		}
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name      string
		cmd       string
		reply     string
		wantValue string
		wantErr   bool
	}{
		{"echoed value", "W:1:H:0;", "W:1:H:1", "1", false},
		{"empty value", "W:2:C:;", "W:2:C:", "", false},
		{"selection id", "W:A:C:2;", "W:A:C:96", "96", false},
		{"wrong module", "W:1:H:0;", "W:2:H:1", "1", true},
		{"wrong op", "W:1:H:0;", "W:1:I:1", "1", true},
		{"short reply", "W:1:H:0;", "W:1", "1", true},
		{"garbage", "W:1:H:0;", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseReply(tt.cmd, tt.reply)
			if tt.wantErr {
				var mismatch *MismatchError
				if !errors.As(err, &mismatch) {
					t.Fatalf("parseReply(%q, %q) err = %v, want MismatchError", tt.cmd, tt.reply, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReply(%q, %q) unexpected error: %v", tt.cmd, tt.reply, err)
			}
			if resp.Value != tt.wantValue {
				t.Errorf("parseReply(%q, %q).Value = %q, want %q", tt.cmd, tt.reply, resp.Value, tt.wantValue)
			}
		})
	}
}

func TestResponseInt(t *testing.T) {
	n, err := (Response{Value: " 42"}).Int()
	if err != nil {
		t.Fatalf("Int() unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("Int() = %d, want 42", n)
	}
	if _, err := (Response{Value: "ready"}).Int(); err == nil {
		t.Error("Int() on non-numeric value: expected error")
	}
}
